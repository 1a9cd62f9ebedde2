// Package sasl defines the external-collaborator contract the protocol
// engine uses to drive the AUTHENTICATE sub-protocol, plus one concrete,
// optional factory adapting github.com/emersion/go-sasl's PLAIN and
// EXTERNAL client mechanisms. SCRAM-SHA-256 and any other algorithm
// beyond that sub-protocol contract is out of scope: callers needing it
// supply their own Mechanism implementation.
package sasl

import "context"

// ChannelBindingKind mirrors irc.ChannelBindingKind without importing
// the root package (which imports this one for the engine side),
// avoiding an import cycle.
type ChannelBindingKind int

const (
	ChannelBindingUnique ChannelBindingKind = iota
	ChannelBindingEndpoint
)

// Mechanism is a single-shot, disposable SASL exchange for one
// AUTHENTICATE negotiation attempt.
type Mechanism interface {
	// Name is the mechanism name as advertised/sent on the wire, e.g.
	// "PLAIN".
	Name() string

	// SupportsChannelBinding reports whether SetChannelBinding can
	// meaningfully affect this mechanism's exchange.
	SupportsChannelBinding() bool

	// SetChannelBinding supplies channel-binding data of the given kind.
	// Returns false if this mechanism/kind combination is not usable,
	// in which case the caller tries the next kind, and skips the
	// mechanism when no available kind is accepted.
	SetChannelBinding(kind ChannelBindingKind, data []byte) bool

	// Authenticate processes one server-to-client AUTHENTICATE payload
	// (already base64-decoded) and returns the next client response to
	// send (already to be base64-encoded by the caller), or ok=false if
	// the mechanism has rejected the exchange.
	Authenticate(ctx context.Context, serverData []byte) (ok bool, response []byte, err error)

	// Dispose releases any resources held by this single-shot exchange.
	Dispose()
}

// Factory selects and creates Mechanism instances by name.
type Factory interface {
	// Supported returns this factory's mechanism names in preference
	// order, intersected by the caller against the server's advertised
	// list and minus any disabled mechanisms.
	Supported() []string

	// Create returns a fresh, single-shot Mechanism for name.
	// Credentials are supplied out of band via the factory's own
	// construction.
	Create(name string) (Mechanism, error)
}
