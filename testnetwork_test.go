package irc

import (
	"net"

	"github.com/inconshreveable/log15"
)

// newTestNetwork builds a *Network with registered=false, a fresh
// NetworkState, and a discard logger, without dialing anything. Tests
// exercise the dispatcher's per-message handlers directly rather than
// going through Connect, since Connect needs a real socket.
func newTestNetwork(opts Options) *Network {
	if opts.Codec == (CommandOptions{}) {
		opts.Codec = DefaultCommandOptions()
	}
	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())

	n := &Network{
		name:          "test",
		opts:          opts,
		log:           logger,
		rateLimiter:   noRateLimit{},
		connEvents:    newEventRegistry[ConnectionEvent](logger),
		capEvents:     newEventRegistry[CapEvent](logger),
		commandEvents: newEventRegistry[CommandEvent](logger),
	}
	self := UserRecord{Nick: opts.PrimaryNick, Ident: opts.identOrDefault(), RealName: opts.realNameOrDefault()}
	n.state = NewNetworkState("test", "self", self)
	n.selfID = "self"
	n.currentNick = opts.PrimaryNick
	n.hostmask = opts.PrimaryNick
	n.events = make(chan dispatcherEvent, 64)
	return n
}

// attachPipe gives n a pipe-backed Transport and returns the far end, so
// a test can read what the engine writes without a real socket.
func attachPipe(n *Network) net.Conn {
	tr, server := pipeTransport()
	n.transport = tr
	return server
}
