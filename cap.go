package irc

import (
	"context"
	"sort"
	"strings"
)

// defaultCapSet is requested automatically whenever the server
// advertises the capability, without the caller's should_enable_cap
// filter needing to opt in.
var defaultCapSet = map[string]bool{
	"account-notify":       true,
	"away-notify":          true,
	"batch":                true,
	"cap-notify":           true,
	"chghost":              true,
	"draft/channel-rename": true,
	"draft/multiline":      true,
	"extended-join":        true,
	"message-ids":          true,
	"message-tags":         true,
	"multi-prefix":         true,
	"server-time":          true,
	"setname":              true,
	"userhost-in-names":    true,
}

const capReqReserve = 434

// handleCAP dispatches one CAP subcommand line.
func (n *Network) handleCAP(ctx context.Context, cmd *Command) {
	if len(cmd.Args) < 2 {
		n.log.Warn("malformed CAP line", "args", cmd.Args)
		return
	}
	sub := strings.ToUpper(cmd.Args[1])
	rest := cmd.Args[2:]
	switch sub {
	case "LS":
		n.handleCapLS(ctx, rest)
	case "ACK":
		n.handleCapACK(ctx, rest)
	case "NAK":
		n.handleCapNAK(ctx)
	case "LIST":
		n.handleCapListOrAck(rest, "LIST")
	case "DEL":
		n.handleCapDEL(rest)
	case "NEW":
		n.handleCapNEW(ctx, rest)
	}
}

func (n *Network) handleCapLS(ctx context.Context, args []string) {
	final := true
	var list string
	if len(args) >= 2 && args[0] == "*" {
		final = false
		list = args[1]
	} else if len(args) >= 1 {
		list = args[len(args)-1]
	}

	n.cacheSupportedCaps(list)
	if !final {
		return
	}

	n.mu.Lock()
	n.capLSDone = true
	n.mu.Unlock()

	toRequest := n.decideCapsToRequest(n.State().SupportedCaps)
	if len(toRequest) == 0 {
		n.sendCapEnd(ctx)
		return
	}

	nick, source := n.capBudgetInputs()
	for _, line := range chunkCapRequests(toRequest, nick, source) {
		_ = n.unsafeSendRaw(ctx, "CAP REQ :"+line)
	}
}

func (n *Network) cacheSupportedCaps(list string) {
	for _, tok := range strings.Fields(list) {
		name, val, hasVal := splitCapToken(tok)
		var vp *string
		if hasVal {
			v := val
			vp = &v
		}
		n.mutateState(func(s *NetworkState) *NetworkState { return s.withSupportedCap(name, vp) })
	}
}

func (n *Network) decideCapsToRequest(supported map[string]*string) []string {
	var out []string
	for name := range supported {
		want := defaultCapSet[name]
		if !want && n.opts.ShouldEnableCap != nil {
			want = n.opts.ShouldEnableCap(name)
		}
		if name == "sasl" && n.shouldUseSASL() {
			want = true
		}
		if want {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (n *Network) shouldUseSASL() bool {
	return n.opts.UseSASL && (n.opts.AccountPassword != "" || n.opts.AccountCertificateFile != "" || n.opts.SaslFactory != nil || n.saslFactory != nil)
}

func (n *Network) capBudgetInputs() (nick, source string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	nick = n.currentNick
	source = n.hostmask
	return
}

// chunkCapRequests groups caps into "CAP REQ :a b c" lines, each sized
// so the list itself fits within capReqReserve−len(nick)−len(source)
// bytes (so the server's eventual ACK/NAK line, echoing the same list
// plus its own framing, still fits in 512 bytes).
func chunkCapRequests(caps []string, nick, source string) []string {
	budget := capReqReserve - len(nick) - len(source)
	if budget < 1 {
		budget = 1
	}
	var lines []string
	var cur []string
	curLen := 0
	for _, c := range caps {
		add := len(c)
		if len(cur) > 0 {
			add++ // separating space
		}
		if curLen+add > budget && len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = nil
			curLen = 0
			add = len(c)
		}
		cur = append(cur, c)
		curLen += add
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " "))
	}
	return lines
}

func splitCapToken(tok string) (name, value string, hasValue bool) {
	if idx := strings.IndexByte(tok, '='); idx >= 0 {
		return tok[:idx], tok[idx+1:], true
	}
	return tok, "", false
}

func (n *Network) enableCaps(list []string) {
	for _, tok := range list {
		name, val, hasVal := splitCapToken(tok)
		n.mutateState(func(s *NetworkState) *NetworkState { return s.withEnabledCap(name, true) })
		if hasVal {
			v := val
			n.mutateState(func(s *NetworkState) *NetworkState { return s.withSupportedCap(name, &v) })
		}
	}
	n.metrics.setCapsEnabled(len(n.State().EnabledCaps))
}

func (n *Network) handleCapACK(ctx context.Context, args []string) {
	if len(args) == 0 {
		return
	}
	list := strings.Fields(args[len(args)-1])
	n.enableCaps(list)

	saslAcked := false
	for _, tok := range list {
		name, val, hasVal := splitCapToken(tok)
		if name == "sasl" {
			saslAcked = true
		}
		n.fireCapEvent(CapEventEnabled, name, val, hasVal, "ACK")
	}

	if saslAcked {
		n.beginSASL(ctx)
		return
	}
	if !n.isRegistered() {
		n.sendCapEnd(ctx)
	}
}

func (n *Network) handleCapListOrAck(args []string, subcommand string) {
	if len(args) == 0 {
		return
	}
	list := strings.Fields(args[len(args)-1])
	n.enableCaps(list)
	for _, tok := range list {
		name, val, hasVal := splitCapToken(tok)
		n.fireCapEvent(CapEventEnabled, name, val, hasVal, subcommand)
	}
}

func (n *Network) handleCapDEL(args []string) {
	if len(args) == 0 {
		return
	}
	list := strings.Fields(args[len(args)-1])
	for _, tok := range list {
		name, _, _ := splitCapToken(tok)
		n.mutateState(func(s *NetworkState) *NetworkState { return s.withEnabledCap(name, false) })
	}
	n.metrics.setCapsEnabled(len(n.State().EnabledCaps))
	for _, tok := range list {
		name, val, hasVal := splitCapToken(tok)
		n.fireCapEvent(CapEventDisabled, name, val, hasVal, "DEL")
	}
}

func (n *Network) handleCapNAK(ctx context.Context) {
	if !n.isRegistered() {
		n.sendCapEnd(ctx)
	}
}

func (n *Network) handleCapNEW(ctx context.Context, args []string) {
	if len(args) == 0 {
		return
	}
	list := strings.Fields(args[len(args)-1])
	n.cacheSupportedCaps(strings.Join(list, " "))

	toRequest := n.decideCapsToRequest(n.State().SupportedCaps)
	if len(toRequest) == 0 {
		return
	}
	nick, source := n.capBudgetInputs()
	for _, line := range chunkCapRequests(toRequest, nick, source) {
		_ = n.unsafeSendRaw(ctx, "CAP REQ :"+line)
	}
	if !n.isAuthenticated() {
		n.beginSASL(ctx)
	}
}

func (n *Network) sendCapEnd(ctx context.Context) {
	n.mu.Lock()
	if n.capEndSent {
		n.mu.Unlock()
		return
	}
	n.capEndSent = true
	n.mu.Unlock()
	_ = n.unsafeSendRaw(ctx, "CAP END")
}

func (n *Network) fireCapEvent(kind CapEventKind, name, value string, hasValue bool, subcommand string) {
	n.capEvents.Fire(CapEvent{Kind: kind, Name: name, Value: value, HasValue: hasValue, Subcommand: subcommand})
}
