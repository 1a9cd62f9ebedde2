package irc

import (
	"context"
	"strings"
)

// arityMinimums is the known-arity table: verbs with fewer args than
// listed here are dropped as protocol violations before being emitted
// to subscribers. Verbs absent from this table are not arity-checked.
var arityMinimums = map[string]int{
	"PRIVMSG": 2,
	"NOTICE":  2,
	"JOIN":    1,
	"PART":    1,
	"KICK":    2,
	"NICK":    1,
	"MODE":    1,
	"TOPIC":   1,
	"QUIT":    0,
	"PING":    1,
	"PONG":    1,
	"005":     1,
	"221":     2,
	"332":     3,
	"352":     8,
	"353":     4,
	"900":     1,
	"903":     1,
	"904":     1,
	"905":     1,
	"906":     1,
	"907":     1,
	"908":     1,
}

// handleCommand is the dispatcher's per-message entry point. registrationDone
// is true exactly when this command completes registration (315); dropped is
// true when cmd failed the arity check and must never reach subscribers.
func (n *Network) handleCommand(ctx context.Context, cmd *Command) (registrationDone, dropped bool) {
	if min, ok := arityMinimums[cmd.Verb]; ok && len(cmd.Args) < min {
		n.log.Warn("dropping command: arity violation", "verb", cmd.Verb, "args", len(cmd.Args))
		return false, true
	}

	switch cmd.Verb {
	case "CAP":
		n.handleCAP(ctx, cmd)
		return false, false
	case "AUTHENTICATE":
		n.handleAUTHENTICATE(ctx, cmd)
		return false, false
	case "900", "902", "903", "904", "905", "906", "907", "908":
		n.handleSaslNumeric(ctx, cmd)
		return false, false
	case "PONG":
		n.handlePONG(cmd)
		return false, false
	case "PING":
		if len(cmd.Args) > 0 {
			_ = n.unsafeSendRaw(ctx, "PONG :"+cmd.Arg(0))
		}
		return false, false
	case "ERROR":
		n.log.Error("server ERROR", "reason", cmd.Arg(0))
		return false, false
	}

	if !n.isRegistered() {
		return n.handleRegistrationPhase(ctx, cmd), false
	}

	n.handlePostRegistration(ctx, cmd)
	return false, false
}

func (n *Network) handlePostRegistration(ctx context.Context, cmd *Command) {
	switch cmd.Verb {
	case "005":
		n.handleISupport(cmd)
	case "221":
		n.handleSelfModes(cmd)
	case "332":
		n.handleTopic(cmd)
	case "352":
		n.handleWhoReply(cmd)
	case "353":
		n.handleNamesReply(cmd)
	case "JOIN":
		n.handleJoin(cmd)
	case "PART":
		n.handlePart(cmd)
	case "KICK":
		n.handleKick(cmd)
	case "NICK":
		n.handleNick(cmd)
	case "RENAME":
		n.handleRename(cmd)
	case "ACCOUNT":
		n.handleAccount(cmd)
	case "AWAY":
		n.handleAway(cmd)
	case "CHGHOST":
		n.handleChgHost(cmd)
	case "SETNAME":
		n.handleSetName(cmd)
	case "QUIT":
		n.handleQuit(cmd)
	case "MODE":
		n.handleMode(cmd)
	}
}

func (n *Network) handleISupport(cmd *Command) {
	n.mutateState(func(s *NetworkState) *NetworkState {
		return s.withIsupport(cmd.Args[1:])
	})
}

func (n *Network) handleSelfModes(cmd *Command) {
	modes := make(map[byte]struct{})
	for i := 0; i < len(cmd.Arg(1)); i++ {
		c := cmd.Arg(1)[i]
		if c == '+' || c == '-' {
			continue
		}
		modes[c] = struct{}{}
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withSelfModes(modes) })
}

func (n *Network) handleTopic(cmd *Command) {
	chanName := cmd.Arg(1)
	topic := cmd.Arg(2)
	st := n.State()
	ch, ok := st.GetChannel(chanName)
	if !ok {
		return
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withChannelTopic(ch.ID, topic) })
}

func (n *Network) handleWhoReply(cmd *Command) {
	// 352 <client> <channel> <user> <host> <server> <nick> <flags> :<hopcount> <realname>
	channel := cmd.Arg(1)
	ident := cmd.Arg(2)
	host := cmd.Arg(3)
	nick := cmd.Arg(5)
	flags := cmd.Arg(6)

	st := n.State()
	prefix := stripStatusFlags(flags, st.ChannelPrefixSymbols())

	existing, found := st.GetUserByNick(nick)
	id := existing.ID
	if !found {
		id = UserID(nick)
	}
	u := existing
	u.ID = id
	u.Nick = nick
	u.Ident = ident
	u.Host = host
	if u.Channels == nil {
		u.Channels = map[ChannelID]string{}
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withUser(u) })

	if channel != "" && channel != "*" {
		if ch, ok := st.GetChannel(channel); ok {
			n.mutateState(func(s *NetworkState) *NetworkState { return s.withMembershipPrefix(ch.ID, id, prefix) })
		}
	}

	if nick == n.currentNickSnapshot() {
		n.mu.Lock()
		n.hostmask = FormatHostmask(nick, ident, host)
		n.mu.Unlock()
	}
}

func stripStatusFlags(flags, symbols string) string {
	var b strings.Builder
	for i := 0; i < len(flags); i++ {
		c := flags[i]
		if c == '*' {
			continue
		}
		if strings.IndexByte(symbols, c) >= 0 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (n *Network) currentNickSnapshot() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.currentNick
}

func (n *Network) handleNamesReply(cmd *Command) {
	st := n.State()
	if ok, _ := st.IsCapEnabled("userhost-in-names"); !ok {
		return
	}
	chanName := cmd.Arg(2)
	ch, ok := st.GetChannel(chanName)
	if !ok {
		return
	}
	symbols := st.ChannelPrefixSymbols()
	for _, entry := range strings.Fields(cmd.Arg(len(cmd.Args) - 1)) {
		prefix, rest := splitNamesPrefix(entry, symbols)
		nick, user, host := ParseHostmask(rest)
		existing, found := st.GetUserByNick(nick)
		id := existing.ID
		if !found {
			id = UserID(nick)
		}
		u := existing
		u.ID = id
		u.Nick = nick
		u.Ident = user
		u.Host = host
		if u.Channels == nil {
			u.Channels = map[ChannelID]string{}
		}
		n.mutateState(func(s *NetworkState) *NetworkState { return s.withUser(u) })
		n.mutateState(func(s *NetworkState) *NetworkState { return s.joinMembership(ch.ID, id, prefix) })
	}
}

func splitNamesPrefix(entry, symbols string) (prefix, rest string) {
	i := 0
	for i < len(entry) && strings.IndexByte(symbols, entry[i]) >= 0 {
		i++
	}
	return entry[:i], entry[i:]
}

func (n *Network) handleJoin(cmd *Command) {
	chanName := cmd.Arg(0)
	st := n.State()

	var nick, account, realname string
	ok, _ := st.IsCapEnabled("extended-join")
	if cmd.HasSource() {
		nick, _, _ = ParseHostmask(cmd.Source)
	}
	if ok && len(cmd.Args) >= 3 {
		account = cmd.Arg(1)
		realname = cmd.Arg(2)
	}

	isSelf := nick == n.currentNickSnapshot()

	ch, chFound := st.GetChannel(chanName)
	if !chFound {
		if !isSelf {
			return
		}
		chID := ChannelID(chanName)
		n.mutateState(func(s *NetworkState) *NetworkState {
			return s.withChannel(ChannelRecord{ID: chID, Name: chanName, Modes: map[byte]*string{}, Users: map[UserID]string{}})
		})
		ch, _ = n.State().GetChannel(chanName)
	}

	u, found := st.GetUser(UserID(nick))
	if !found {
		u, found = st.GetUserByNick(nick)
	}
	id := u.ID
	if !found {
		id = UserID(nick)
	}
	u.ID = id
	u.Nick = nick
	if account != "" {
		u.Account = account
	}
	if realname != "" {
		u.RealName = realname
	}
	if u.Channels == nil {
		u.Channels = map[ChannelID]string{}
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withUser(u) })
	n.mutateState(func(s *NetworkState) *NetworkState { return s.joinMembership(ch.ID, id, "") })
}

func (n *Network) handlePart(cmd *Command) {
	chanName := cmd.Arg(0)
	st := n.State()
	ch, ok := st.GetChannel(chanName)
	if !ok {
		return
	}
	nick, _, _ := ParseHostmask(cmd.Source)
	isSelf := nick == n.currentNickSnapshot()
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	if isSelf {
		n.mutateState(func(s *NetworkState) *NetworkState { return s.withoutChannel(ch.ID) })
		n.pruneOrphanUsers()
		return
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.partMembership(ch.ID, u.ID) })
}

func (n *Network) pruneOrphanUsers() {
	st := n.State()
	for _, u := range st.GetAllUsers() {
		if u.ID == st.SelfID {
			continue
		}
		if len(u.Channels) == 0 {
			n.mutateState(func(s *NetworkState) *NetworkState { return s.withoutUser(u.ID) })
		}
	}
}

func (n *Network) handleKick(cmd *Command) {
	chanName := cmd.Arg(0)
	kicked := cmd.Arg(1)
	st := n.State()
	ch, ok := st.GetChannel(chanName)
	if !ok {
		return
	}
	if kicked == n.currentNickSnapshot() {
		n.mutateState(func(s *NetworkState) *NetworkState { return s.withoutChannel(ch.ID) })
		n.pruneOrphanUsers()
		return
	}
	u, ok := st.GetUserByNick(kicked)
	if !ok {
		return
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.partMembership(ch.ID, u.ID) })
}

func (n *Network) handleNick(cmd *Command) {
	newNick := cmd.Arg(0)
	st := n.State()
	if !ValidNick(newNick, st.IsupportOrDefault("CHANTYPES", "#&"), st.ChannelPrefixSymbols()) {
		n.log.Warn("protocol violation: invalid NICK target", "nick", newNick)
		return
	}
	nick, _, _ := ParseHostmask(cmd.Source)
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.renameUser(u.ID, newNick) })
	if nick == n.currentNickSnapshot() {
		n.mu.Lock()
		n.currentNick = newNick
		n.mu.Unlock()
	}
}

func (n *Network) handleRename(cmd *Command) {
	oldName := cmd.Arg(0)
	newName := cmd.Arg(1)
	st := n.State()
	if newName == "" || !strings.ContainsAny(newName[:1], st.IsupportOrDefault("CHANTYPES", "#&")) {
		n.log.Warn("protocol violation: RENAME target has no valid channel type", "name", newName)
		return
	}
	ch, ok := st.GetChannel(oldName)
	if !ok {
		return
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.renameChannel(ch.ID, newName) })
}

func (n *Network) handleAccount(cmd *Command) {
	nick, _, _ := ParseHostmask(cmd.Source)
	st := n.State()
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	account := cmd.Arg(0)
	if account == "*" {
		account = ""
	}
	u.Account = account
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withUser(u) })
}

func (n *Network) handleAway(cmd *Command) {
	nick, _, _ := ParseHostmask(cmd.Source)
	st := n.State()
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	u.Away = len(cmd.Args) > 0 && cmd.Arg(0) != ""
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withUser(u) })
}

func (n *Network) handleChgHost(cmd *Command) {
	nick, _, _ := ParseHostmask(cmd.Source)
	st := n.State()
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	u.Ident = cmd.Arg(0)
	u.Host = cmd.Arg(1)
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withUser(u) })
}

func (n *Network) handleSetName(cmd *Command) {
	nick, _, _ := ParseHostmask(cmd.Source)
	st := n.State()
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	u.RealName = cmd.Arg(0)
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withUser(u) })
}

func (n *Network) handleQuit(cmd *Command) {
	nick, _, _ := ParseHostmask(cmd.Source)
	if nick == n.currentNickSnapshot() {
		n.log.Warn("protocol violation: server sent QUIT for our own source")
		return
	}
	st := n.State()
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	for cid := range u.Channels {
		n.mutateState(func(s *NetworkState) *NetworkState { return s.partMembership(cid, u.ID) })
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withoutUser(u.ID) })
}

// handleMode walks a MODE line, classifying each letter against
// ISUPPORT CHANMODES (A/B/C/D lists) or as a PREFIX status-prefix mode.
func (n *Network) handleMode(cmd *Command) {
	target := cmd.Arg(0)
	st := n.State()

	if target == n.currentNickSnapshot() {
		n.applySelfModeDiff(cmd.Arg(1))
		return
	}

	ch, ok := st.GetChannel(target)
	if !ok {
		return
	}
	n.applyChannelModeDiff(ch.ID, cmd.Args[1:])
}

func (n *Network) applySelfModeDiff(diff string) {
	st := n.State()
	u, ok := st.GetUser(st.SelfID)
	if !ok {
		return
	}
	modes := cloneByteSet(u.Modes)
	adding := true
	for i := 0; i < len(diff); i++ {
		c := diff[i]
		switch c {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			if adding {
				modes[c] = struct{}{}
			} else {
				delete(modes, c)
			}
		}
	}
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withSelfModes(modes) })
}

func (n *Network) applyChannelModeDiff(cid ChannelID, args []string) {
	if len(args) == 0 {
		return
	}
	st := n.State()
	listModes, argModes, argOnSetModes, noArgModes := parseChanModes(st.IsupportOrDefault("CHANMODES", "b,k,l,imnpst"))
	prefixModes := st.ChannelPrefixModes()

	diff := args[0]
	rest := args[1:]
	adding := true
	argIdx := 0
	nextArg := func() (string, bool) {
		if argIdx >= len(rest) {
			return "", false
		}
		a := rest[argIdx]
		argIdx++
		return a, true
	}

	for i := 0; i < len(diff); i++ {
		c := diff[i]
		switch c {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		switch {
		case strings.IndexByte(prefixModes, c) >= 0:
			arg, ok := nextArg()
			if !ok {
				continue
			}
			n.adjustStatusPrefix(cid, arg, c, adding)
		case strings.IndexByte(listModes, c) >= 0:
			nextArg()
		case strings.IndexByte(argModes, c) >= 0:
			arg, ok := nextArg()
			if ok {
				v := arg
				n.mutateState(func(s *NetworkState) *NetworkState { return s.withChannelMode(cid, c, adding, &v) })
			} else {
				n.mutateState(func(s *NetworkState) *NetworkState { return s.withChannelMode(cid, c, adding, nil) })
			}
		case strings.IndexByte(argOnSetModes, c) >= 0:
			if adding {
				arg, _ := nextArg()
				v := arg
				n.mutateState(func(s *NetworkState) *NetworkState { return s.withChannelMode(cid, c, true, &v) })
			} else {
				n.mutateState(func(s *NetworkState) *NetworkState { return s.withChannelMode(cid, c, false, nil) })
			}
		case strings.IndexByte(noArgModes, c) >= 0:
			n.mutateState(func(s *NetworkState) *NetworkState { return s.withChannelMode(cid, c, adding, nil) })
		}
	}
}

func (n *Network) adjustStatusPrefix(cid ChannelID, nick string, letter byte, adding bool) {
	st := n.State()
	ch, ok := st.GetChannelByID(cid)
	if !ok {
		return
	}
	u, ok := st.GetUserByNick(nick)
	if !ok {
		return
	}
	current := ch.Users[u.ID]
	symbol := prefixSymbolForMode(st.ChannelPrefixModes(), st.ChannelPrefixSymbols(), letter)
	if symbol == 0 {
		return
	}
	newPrefix := applyPrefixOrder(current, symbol, adding, st.ChannelPrefixSymbols())
	n.mutateState(func(s *NetworkState) *NetworkState { return s.withMembershipPrefix(cid, u.ID, newPrefix) })
}

func prefixSymbolForMode(modes, symbols string, letter byte) byte {
	idx := strings.IndexByte(modes, letter)
	if idx < 0 || idx >= len(symbols) {
		return 0
	}
	return symbols[idx]
}

func applyPrefixOrder(current string, symbol byte, adding bool, order string) string {
	has := strings.IndexByte(current, symbol) >= 0
	if adding == has {
		return current
	}
	var out []byte
	if adding {
		out = append(out, []byte(current)...)
		out = append(out, symbol)
	} else {
		for i := 0; i < len(current); i++ {
			if current[i] != symbol {
				out = append(out, current[i])
			}
		}
	}
	sorted := make([]byte, 0, len(out))
	for i := 0; i < len(order); i++ {
		for _, b := range out {
			if b == order[i] {
				sorted = append(sorted, b)
			}
		}
	}
	return string(sorted)
}

// parseChanModes splits an ISUPPORT CHANMODES value ("A,B,C,D") into
// its four letter classes.
func parseChanModes(raw string) (list, arg, argOnSet, noArg string) {
	parts := strings.SplitN(raw, ",", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2], parts[3]
}
