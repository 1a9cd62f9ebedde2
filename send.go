package irc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rivo/uniseg"
)

// DeferredCommand exposes the command that was sent plus an
// asynchronous stream of subsequently received commands, so a caller
// can compose "await the first reply matching predicate P". One
// subscription is created per DeferredCommand and disposed when Await
// resolves or ctx is cancelled.
type DeferredCommand struct {
	Sent *Command

	network     *Network
	unsubscribe func()
}

// Await blocks until pred returns true for an inbound command, or ctx
// is cancelled. It disposes its subscription in either case.
func (d *DeferredCommand) Await(ctx context.Context, pred func(*Command) bool) (*Command, error) {
	ch := make(chan *Command, 4)
	d.unsubscribe = d.network.commandEvents.Subscribe(func(ev CommandEvent) {
		if pred(ev.Command) {
			select {
			case ch <- ev.Command:
			default:
			}
		}
	})
	defer d.Dispose()

	select {
	case cmd := <-ch:
		return cmd, nil
	case <-ctx.Done():
		return nil, cancelled("deferred command await cancelled")
	}
}

// Dispose releases the subscription without waiting for a match.
func (d *DeferredCommand) Dispose() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

// send acquires a rate-limit lease for cmd, then writes it. Returns a
// DeferredCommand for correlating replies.
func (n *Network) send(ctx context.Context, cmd *Command) (*DeferredCommand, error) {
	lease, err := n.rateLimiter.acquire(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !lease.Acquired {
		return nil, rateLimitRejected(lease.Reason)
	}
	if err := n.transportSend(ctx, cmd); err != nil {
		return nil, err
	}
	n.metrics.sentOne()
	return &DeferredCommand{Sent: cmd, network: n}, nil
}

func (n *Network) transportSend(ctx context.Context, cmd *Command) error {
	n.mu.RLock()
	t := n.transport
	n.mu.RUnlock()
	if t == nil {
		return badState("no transport")
	}
	return t.Send(ctx, cmd)
}

// sendRaw parses line in Client mode, rebuilds it with self-identity
// (the engine's current source), then sends it through the rate-limited
// path.
func (n *Network) sendRaw(ctx context.Context, line string) (*DeferredCommand, error) {
	parsed, err := Parse(line, Client)
	if err != nil {
		return nil, err
	}
	cmd, err := NewCommand(Client, n.selfSource(), false, parsed.Verb, parsed.Args, parsed.Tags)
	if err != nil {
		return nil, err
	}
	return n.send(ctx, cmd)
}

// unsafeSendRaw bypasses parsing, rebuilding, and rate-limiting,
// writing line verbatim plus CR LF. Reserved for protocol-layer use
// (PING/PONG, CAP, AUTHENTICATE).
func (n *Network) unsafeSendRaw(ctx context.Context, line string) error {
	n.mu.RLock()
	t := n.transport
	n.mu.RUnlock()
	if t == nil {
		return badState("no transport")
	}
	return t.SendRaw(ctx, line)
}

func (n *Network) selfSource() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hostmask
}

// MessageKind selects PRIVMSG vs NOTICE for PrepareMessage.
type MessageKind int

const (
	Message MessageKind = iota
	Notice
)

const prepareMessageOverhead = 21 // ":" + "!" + "@" + " " + verb-ish slack the wire format imposes beyond raw field lengths

// PrepareMessage splits text into one or more PRIVMSG/NOTICE commands
// sized to fit the line budget, optionally wrapped in a draft/multiline
// batch when the server has negotiated it.
func (n *Network) PrepareMessage(kind MessageKind, target, text string, tags *Tags, sharedChannel string) ([]*Command, error) {
	verb := "PRIVMSG"
	if kind == Notice {
		verb = "NOTICE"
	}

	st := n.State()
	args := []string{target}
	if sharedChannel != "" {
		cVerb := "C" + verb
		if _, ok := st.IsupportToken("CPRIVMSG"); ok && verb == "PRIVMSG" {
			verb = cVerb
			args = []string{sharedChannel, target}
		} else if _, ok := st.IsupportToken("CNOTICE"); ok && verb == "NOTICE" {
			verb = cVerb
			args = []string{sharedChannel, target}
		}
	}

	hostmask := n.selfSource()
	maxlen := n.opts.Codec.LineLengthBudget - prepareMessageOverhead - len(hostmask) - len(verb) - len(target)
	if sharedChannel != "" {
		maxlen -= 1 + len(sharedChannel)
	}
	if maxlen < 1 {
		return nil, invalidArgument("no room for message body within line budget")
	}

	lines := splitLines(text)
	var pieces []string
	for _, line := range lines {
		pieces = append(pieces, splitGraphemeAware(line, maxlen)...)
	}

	multiline, maxBytes, maxLines := n.multilineLimits()
	if multiline && maxBytes > maxlen && maxLines > 1 {
		return n.buildMultilineBatches(verb, args, pieces, tags, maxBytes, maxLines)
	}

	cmds := make([]*Command, 0, len(pieces))
	for _, p := range pieces {
		argsWithBody := append(append([]string{}, args...), p)
		cmd, err := Build(Client, hostmask, false, verb, argsWithBody, tags.Clone(), n.opts.Codec)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func splitLines(text string) []string {
	return strings.Split(text, "\n")
}

// multilineLimits reports whether draft/multiline is enabled and its
// advertised max-bytes/max-lines, defaulting to values that disable
// batching when absent or not larger than a single line.
func (n *Network) multilineLimits() (enabled bool, maxBytes, maxLines int) {
	st := n.State()
	ok, value := st.IsCapEnabled("draft/multiline")
	if !ok {
		return false, 0, 0
	}
	maxBytes = parseMultilineParam(value, "max-bytes", 0)
	maxLines = parseMultilineParam(value, "max-lines", 0)
	return maxBytes > 0 && maxLines > 0, maxBytes, maxLines
}

func parseMultilineParam(capValue, key string, def int) int {
	for _, part := range strings.Split(capValue, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && kv[0] == key {
			if n, ok := parsePositiveInt(kv[1]); ok {
				return n
			}
		}
	}
	return def
}

// buildMultilineBatches wraps pieces in one or more draft/multiline
// BATCH envelopes, starting a new batch whenever the next piece would
// push the current one over maxBytes or maxLines.
func (n *Network) buildMultilineBatches(verb string, args []string, pieces []string, tags *Tags, maxBytes, maxLines int) ([]*Command, error) {
	hostmask := n.selfSource()
	var out []*Command
	target := args[len(args)-1]

	i := 0
	for i < len(pieces) {
		id, err := randomBatchID()
		if err != nil {
			return nil, err
		}
		open, err := Build(Client, hostmask, false, "BATCH", []string{"+" + id, "draft/multiline", target}, NewTags(), n.opts.Codec)
		if err != nil {
			return nil, err
		}
		out = append(out, open)

		batchBytes := 0
		lineCount := 0
		for i < len(pieces) && lineCount < maxLines {
			piece := pieces[i]
			if batchBytes+len(piece) > maxBytes && lineCount > 0 {
				break
			}
			t := tags.Clone()
			t.Set("batch", id)
			if lineCount > 0 {
				t.SetPresent("draft/multiline-concat")
			}
			argsWithBody := append(append([]string{}, args...), piece)
			cmd, err := Build(Client, hostmask, false, verb, argsWithBody, t, n.opts.Codec)
			if err != nil {
				return nil, err
			}
			out = append(out, cmd)
			batchBytes += len(piece)
			lineCount++
			i++
		}

		closeCmd, err := Build(Client, hostmask, false, "BATCH", []string{"-" + id}, NewTags(), n.opts.Codec)
		if err != nil {
			return nil, err
		}
		out = append(out, closeCmd)
	}
	return out, nil
}

// SendMessage prepares and sends text to target as one or more
// PRIVMSG/NOTICE commands (see PrepareMessage), returning a
// DeferredCommand correlated to the last command written so a caller
// can await a reply without tracking every split piece individually.
func (n *Network) SendMessage(ctx context.Context, kind MessageKind, target, text string, tags *Tags) (*DeferredCommand, error) {
	cmds, err := n.PrepareMessage(kind, target, text, tags, "")
	if err != nil {
		return nil, err
	}
	var last *DeferredCommand
	for _, cmd := range cmds {
		last, err = n.send(ctx, cmd)
		if err != nil {
			return nil, err
		}
	}
	return last, nil
}

// SendRaw parses, re-sources, rate-limits, and writes an arbitrary
// client-mode line, for commands this library has no dedicated helper
// for (e.g. WHOIS, custom vendor commands).
func (n *Network) SendRaw(ctx context.Context, line string) (*DeferredCommand, error) {
	return n.sendRaw(ctx, line)
}

func randomBatchID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", transportErr("generating batch id", err)
	}
	return hex.EncodeToString(b), nil
}

// splitGraphemeAware splits s into pieces of at most maxlen bytes each,
// breaking at grapheme-cluster boundaries so no piece ever cuts a
// cluster in half. Within a cluster boundary, it prefers the last space
// seen (a soft/word break); if no space fits in maxlen, it hard-breaks
// at the last cluster boundary that fits.
func splitGraphemeAware(s string, maxlen int) []string {
	if s == "" {
		return []string{""}
	}
	var pieces []string
	gr := uniseg.NewGraphemes(s)
	start := 0
	lastSpace := -1
	pos := 0
	for gr.Next() {
		clusterStart, clusterEnd := gr.Positions()
		if clusterEnd-start > maxlen {
			if lastSpace > start {
				pieces = append(pieces, s[start:lastSpace])
				start = lastSpace + 1
			} else {
				pieces = append(pieces, s[start:clusterStart])
				start = clusterStart
			}
			lastSpace = -1
		}
		if s[clusterStart:clusterEnd] == " " {
			lastSpace = clusterStart
		}
		pos = clusterEnd
	}
	if start < pos {
		pieces = append(pieces, s[start:pos])
	}
	if len(pieces) == 0 {
		pieces = []string{s}
	}
	return pieces
}
