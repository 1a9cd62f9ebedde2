package irc

import (
	"context"
	"encoding/base64"
	"strings"

	netwolfsasl "github.com/skiznet/netwolf-go/sasl"
)

const (
	authenticateChunkSize = 400
	saslBufferCap         = 64 * 1024
)

// beginSASL selects the first candidate mechanism (server-advertised ∩
// factory-supported, minus disabled_sasl_mechs) and starts it. Called
// once CAP ACK has confirmed sasl, and again from CAP NEW when the
// server re-advertises sasl mid-session.
func (n *Network) beginSASL(ctx context.Context) {
	factory := n.effectiveSaslFactory()
	if factory == nil {
		n.sendCapEnd(ctx)
		return
	}

	serverList := n.capSaslServerList()
	n.mu.Lock()
	n.saslMechsRemaining = intersectMinus(factory.Supported(), serverList, n.opts.DisabledSaslMechs)
	n.mu.Unlock()

	n.trySaslMechanism(ctx, factory)
}

func (n *Network) effectiveSaslFactory() netwolfsasl.Factory {
	if n.opts.SaslFactory != nil {
		return n.opts.SaslFactory
	}
	return n.saslFactory
}

func (n *Network) capSaslServerList() []string {
	v, ok := n.State().SupportedCaps["sasl"]
	if !ok || v == nil || *v == "" {
		return nil
	}
	return strings.Split(*v, ",")
}

func intersectMinus(factoryOrder, serverList, disabled []string) []string {
	serverSet := make(map[string]bool, len(serverList))
	for _, s := range serverList {
		serverSet[s] = true
	}
	disabledSet := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		disabledSet[d] = true
	}
	var out []string
	for _, m := range factoryOrder {
		if (len(serverSet) == 0 || serverSet[m]) && !disabledSet[m] {
			out = append(out, m)
		}
	}
	return out
}

func (n *Network) trySaslMechanism(ctx context.Context, factory netwolfsasl.Factory) {
	n.mu.Lock()
	if len(n.saslMechsRemaining) == 0 {
		n.mu.Unlock()
		n.abortSASL(ctx, "no common SASL mechanisms")
		return
	}
	name := n.saslMechsRemaining[0]
	n.saslMechsRemaining = n.saslMechsRemaining[1:]
	n.mu.Unlock()

	mech, err := factory.Create(name)
	if err != nil {
		n.trySaslMechanism(ctx, factory)
		return
	}

	if mech.SupportsChannelBinding() {
		bound := false
		if unique := n.channelBinding(ChannelBindingUnique); unique != nil {
			bound = mech.SetChannelBinding(netwolfsasl.ChannelBindingUnique, unique)
		}
		if !bound {
			if endpoint := n.channelBinding(ChannelBindingEndpoint); endpoint != nil {
				bound = mech.SetChannelBinding(netwolfsasl.ChannelBindingEndpoint, endpoint)
			}
		}
		if !bound {
			mech.Dispose()
			n.trySaslMechanism(ctx, factory)
			return
		}
	}

	n.mu.Lock()
	n.saslMech = mech
	n.saslBuf.Reset()
	n.mu.Unlock()

	_ = n.unsafeSendRaw(ctx, "AUTHENTICATE "+name)
}

func (n *Network) channelBinding(kind ChannelBindingKind) []byte {
	n.mu.RLock()
	t := n.transport
	n.mu.RUnlock()
	if t == nil {
		return nil
	}
	return t.ChannelBinding(kind)
}

// handleAUTHENTICATE processes one AUTHENTICATE reply line from the
// server, accumulating into the base64 text buffer per §4.4.4.
func (n *Network) handleAUTHENTICATE(ctx context.Context, cmd *Command) {
	if len(cmd.Args) == 0 {
		return
	}
	chunk := cmd.Arg(0)

	n.mu.Lock()
	mech := n.saslMech
	if chunk == "+" {
		n.saslBuf.Reset()
	} else {
		n.saslBuf.WriteString(chunk)
	}
	bufLen := n.saslBuf.Len()
	terminal := chunk == "+" || len(chunk) < authenticateChunkSize
	var full string
	if terminal {
		full = n.saslBuf.String()
		n.saslBuf.Reset()
	}
	n.mu.Unlock()

	if mech == nil {
		return
	}

	if bufLen > saslBufferCap {
		_ = n.unsafeSendRaw(ctx, "AUTHENTICATE *")
		return
	}
	if !terminal {
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(full)
	if err != nil && full != "" {
		_ = n.unsafeSendRaw(ctx, "AUTHENTICATE *")
		return
	}

	ok, resp, err := mech.Authenticate(ctx, decoded)
	if err != nil || !ok {
		_ = n.unsafeSendRaw(ctx, "AUTHENTICATE *")
		return
	}
	if len(resp) == 0 {
		_ = n.unsafeSendRaw(ctx, "AUTHENTICATE +")
		return
	}
	n.sendAuthenticateChunks(ctx, resp)
}

// sendAuthenticateChunks base64-encodes resp and sends it in ≤400-char
// AUTHENTICATE lines; if the final chunk is exactly 400 chars, an
// additional "AUTHENTICATE +" marks completion (otherwise the server
// cannot distinguish "more data coming" from "exactly 400 chars and
// done").
func (n *Network) sendAuthenticateChunks(ctx context.Context, resp []byte) {
	encoded := base64.StdEncoding.EncodeToString(resp)
	if encoded == "" {
		_ = n.unsafeSendRaw(ctx, "AUTHENTICATE +")
		return
	}
	lastLen := 0
	for len(encoded) > 0 {
		end := authenticateChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		piece := encoded[:end]
		encoded = encoded[end:]
		_ = n.unsafeSendRaw(ctx, "AUTHENTICATE "+piece)
		lastLen = len(piece)
	}
	if lastLen == authenticateChunkSize {
		_ = n.unsafeSendRaw(ctx, "AUTHENTICATE +")
	}
}

// handleSaslNumeric processes the 90x numeric family.
func (n *Network) handleSaslNumeric(ctx context.Context, cmd *Command) {
	switch cmd.Verb {
	case "900":
		if len(cmd.Args) > 2 {
			n.mu.Lock()
			n.saslAccount = cmd.Arg(2)
			n.mu.Unlock()
		}
	case "903", "907":
		n.finishSASL(ctx, true)
	case "904", "905":
		factory := n.effectiveSaslFactory()
		if factory != nil {
			n.trySaslMechanism(ctx, factory)
		} else {
			n.abortSASL(ctx, "sasl failed, no factory to retry")
		}
	case "902", "906":
		n.abortSASL(ctx, "sasl failed: "+cmd.Verb)
	case "908":
		if len(cmd.Args) > 1 {
			serverList := strings.Fields(cmd.Arg(1))
			joined := strings.Join(serverList, ",")
			n.mutateState(func(s *NetworkState) *NetworkState { return s.withSupportedCap("sasl", &joined) })
		}
		factory := n.effectiveSaslFactory()
		if factory == nil {
			n.abortSASL(ctx, "sasl mechanism list updated, no factory")
			return
		}
		n.mu.Lock()
		n.saslMechsRemaining = intersectMinus(factory.Supported(), n.capSaslServerList(), n.opts.DisabledSaslMechs)
		remaining := len(n.saslMechsRemaining)
		n.mu.Unlock()
		if remaining == 0 {
			n.abortSASL(ctx, "no common sasl mechanisms remain")
		}
	}
}

func (n *Network) finishSASL(ctx context.Context, success bool) {
	n.mu.Lock()
	if n.saslMech != nil {
		n.saslMech.Dispose()
		n.saslMech = nil
	}
	n.saslAuthenticated = success
	n.mu.Unlock()
	n.sendCapEnd(ctx)
}

func (n *Network) abortSASL(ctx context.Context, reason string) {
	n.log.Warn("sasl authentication aborted", "reason", reason)
	n.mu.Lock()
	if n.saslMech != nil {
		n.saslMech.Dispose()
		n.saslMech = nil
	}
	abortFatal := n.opts.AbortOnSaslFailure
	n.mu.Unlock()

	if abortFatal {
		n.failRegistration(badState("sasl: " + reason))
		return
	}
	n.sendCapEnd(ctx)
}

func (n *Network) isAuthenticated() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.saslAuthenticated
}
