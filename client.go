package irc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/inconshreveable/log15"

	netwolfsasl "github.com/skiznet/netwolf-go/sasl"
)

// ConnectionPhase summarises a Network's current connection state as a
// small sum type, the Go re-expression of the source's conflated
// Connected{..}|Disconnected|Connecting{..} flags.
type ConnectionPhase int

const (
	PhaseDisconnected ConnectionPhase = iota
	PhaseConnecting
	PhaseConnected
)

// Network is the engine: one instance owns one Transport, one
// NetworkState, and one dispatcher goroutine, matching the "exactly one
// Transport owned by the engine at a time" resource model.
type Network struct {
	name        string
	opts        Options
	log         log15.Logger
	metrics     *networkMetrics
	rateLimiter RateLimiter
	saslFactory netwolfsasl.Factory

	mu                sync.RWMutex
	phase             ConnectionPhase
	state             *NetworkState
	transport         *Transport
	selfID            UserID
	currentNick       string
	hostmask          string
	registered        bool
	saslAuthenticated bool

	capLSDone  bool
	capEndSent bool

	saslMech           netwolfsasl.Mechanism
	saslMechsRemaining []string
	saslBuf            strings.Builder
	saslAccount        string

	pingMu            sync.Mutex
	pingActive        bool
	pingLastActivity  bool
	nextPingSeq       int
	pingIntervalTimer *time.Timer
	pingTimeouts      []*pingCookieTimer

	connEvents    *eventRegistry[ConnectionEvent]
	capEvents     *eventRegistry[CapEvent]
	commandEvents *eventRegistry[CommandEvent]

	events chan dispatcherEvent

	disposeOnce sync.Once
	disposed    bool
	cancelDisp  context.CancelFunc
}

// NewNetwork constructs an engine for name from opts as given: only a
// zero Codec is replaced by DefaultCommandOptions, and DefaultOptions is
// not applied to other unset fields. Validation failures are returned immediately;
// nothing is dialed until Connect is called.
func NewNetwork(name string, opts Options) (*Network, error) {
	if opts.Codec == (CommandOptions{}) {
		opts.Codec = DefaultCommandOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log15.New("network", name)
	}

	var limiter RateLimiter
	if opts.RateLimitPerSecond <= 0 && opts.RateLimitBurst <= 0 {
		limiter = noRateLimit{}
	} else {
		limiter = newTokenBucketLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst)
	}

	var factory netwolfsasl.Factory
	if opts.SaslFactory != nil {
		factory = opts.SaslFactory
	} else if opts.UseSASL && opts.AccountPassword != "" {
		factory = &netwolfsasl.EmersionFactory{
			Identity: opts.PrimaryNick,
			Username: opts.PrimaryNick,
			Password: opts.AccountPassword,
		}
	}

	return &Network{
		name:          name,
		opts:          opts,
		log:           logger,
		metrics:       newNetworkMetrics(opts.MetricsRegisterer, name),
		rateLimiter:   limiter,
		saslFactory:   factory,
		connEvents:    newEventRegistry[ConnectionEvent](logger),
		capEvents:     newEventRegistry[CapEvent](logger),
		commandEvents: newEventRegistry[CommandEvent](logger),
	}, nil
}

// State returns the current, immutable state snapshot.
func (n *Network) State() *NetworkState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// mutateState is the only place a Network swaps its owned NetworkState
// reference, matching the "mutations performed by the protocol engine
// only, by producing a new state value and swapping the owning
// reference" rule.
func (n *Network) mutateState(f func(*NetworkState) *NetworkState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = f(n.state)
}

// Phase reports the current connection phase.
func (n *Network) Phase() ConnectionPhase {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.phase
}

// OnConnectionEvent subscribes to Connecting/Connected/Disconnected.
func (n *Network) OnConnectionEvent(fn func(ConnectionEvent)) (unsubscribe func()) {
	return n.connEvents.Subscribe(fn)
}

// OnCapEvent subscribes to CapEnabled/CapDisabled transitions.
func (n *Network) OnCapEvent(fn func(CapEvent)) (unsubscribe func()) {
	return n.capEvents.Subscribe(fn)
}

// OnCommand subscribes to the CommandReceived stream. Handlers run in
// wire order, synchronously on the dispatcher goroutine.
func (n *Network) OnCommand(fn func(CommandEvent)) (unsubscribe func()) {
	return n.commandEvents.Subscribe(fn)
}

func (n *Network) isRegistered() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registered
}

// dispatcherEvent is the dispatcher's single wake-up sum type: the
// select-over-many-awaits the source expresses via async/await is
// re-expressed here as one buffered channel fed by the receiver
// goroutine and the timer callbacks.
type dispatcherEvent struct {
	kind   dispatcherEventKind
	cmd    *Command
	err    error
	cookie string
}

type dispatcherEventKind int

const (
	eventRecv dispatcherEventKind = iota
	eventRecvError
	eventPingDue
	eventPingTimeout
)

// Connect runs the connect sequence: up to 1+connect_retries passes
// over the server list, establishing a fresh NetworkState and Transport
// per attempt, driving registration, and returning once Connected or
// ConnectExhausted.
func (n *Network) Connect(ctx context.Context) error {
	attempts := 1 + n.opts.ConnectRetries
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			n.metrics.reconnected()
		}
		for _, srv := range n.opts.serverAddrs() {
			err := n.connectOnce(ctx, srv)
			if err == nil {
				return nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return cancelled("connect cancelled")
			}
			n.log.Warn("connect attempt failed", "host", srv.Host, "port", srv.Port, "err", err)
		}
	}
	if lastErr == nil {
		lastErr = connectExhausted("no servers configured")
	}
	return connectExhausted(lastErr.Error())
}

func (n *Network) connectOnce(ctx context.Context, srv ServerAddr) error {
	connectCtx, connectCancel := context.WithTimeout(ctx, n.opts.effectiveConnectTimeout())
	defer connectCancel()

	trust := TrustPolicy{
		AcceptAll:                    n.opts.AcceptAllCertificates,
		CheckOnlineRevocation:        n.opts.CheckOnlineRevocation && !n.opts.AcceptAllCertificates,
		TrustedCertFingerprints:      n.opts.TrustedCertificateFingerprints,
		TrustedPublicKeyFingerprints: n.opts.TrustedPublicKeyFingerprints,
	}
	transport, err := Connect(connectCtx, srv, ConnectOptions{BindHost: n.opts.BindHost, Trust: trust})
	if err != nil {
		return err
	}

	self := UserRecord{Nick: n.opts.PrimaryNick, Ident: n.opts.identOrDefault(), RealName: n.opts.realNameOrDefault()}
	selfID := UserID("self")

	n.mu.Lock()
	n.transport = transport
	n.state = NewNetworkState(n.name, selfID, self)
	n.selfID = selfID
	n.currentNick = n.opts.PrimaryNick
	n.hostmask = n.opts.PrimaryNick
	n.registered = false
	n.saslAuthenticated = false
	n.capLSDone = false
	n.capEndSent = false
	n.phase = PhaseConnecting
	n.events = make(chan dispatcherEvent, 64)
	dispCtx, dispCancel := context.WithCancel(ctx)
	n.cancelDisp = dispCancel
	n.mu.Unlock()

	n.connEvents.Fire(ConnectionEvent{Kind: EventConnecting, Network: n.name})

	go n.recvLoop(dispCtx)

	if err := n.sendRegistrationOpeners(connectCtx); err != nil {
		dispCancel()
		transport.Disconnect()
		return err
	}

	regCtx, regCancel := context.WithTimeout(ctx, n.opts.effectiveRegistrationTimeout())
	defer regCancel()

	result := make(chan error, 1)
	go n.runDispatcher(dispCtx, result)

	select {
	case err := <-result:
		if err != nil {
			dispCancel()
			return err
		}
		n.mu.Lock()
		n.phase = PhaseConnected
		n.mu.Unlock()
		n.connEvents.Fire(ConnectionEvent{Kind: EventConnected, Network: n.name})
		n.startPingTimer()
		return nil
	case <-regCtx.Done():
		dispCancel()
		transport.Disconnect()
		return connectExhausted("registration timed out")
	}
}

func (o Options) effectiveConnectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return 24 * time.Hour
	}
	return o.ConnectTimeout
}

func (o Options) effectiveRegistrationTimeout() time.Duration {
	if o.RegistrationTimeout <= 0 {
		return 24 * time.Hour
	}
	return o.RegistrationTimeout
}

func (n *Network) sendRegistrationOpeners(ctx context.Context) error {
	if err := n.unsafeSendRaw(ctx, "CAP LS 302"); err != nil {
		return err
	}
	if n.opts.ServerPassword != "" {
		if err := n.unsafeSendRaw(ctx, "PASS "+n.opts.ServerPassword); err != nil {
			return err
		}
	}
	if err := n.unsafeSendRaw(ctx, "NICK "+n.opts.PrimaryNick); err != nil {
		return err
	}
	return n.unsafeSendRaw(ctx, "USER "+n.opts.identOrDefault()+" 0 * :"+n.opts.realNameOrDefault())
}

func (n *Network) recvLoop(ctx context.Context) {
	n.mu.RLock()
	t := n.transport
	events := n.events
	n.mu.RUnlock()
	for {
		cmd, err := t.Receive(ctx)
		if err != nil {
			select {
			case events <- dispatcherEvent{kind: eventRecvError, err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case events <- dispatcherEvent{kind: eventRecv, cmd: cmd}:
		case <-ctx.Done():
			return
		}
	}
}

// runDispatcher is the single-threaded message loop: it consumes
// dispatcherEvents until registration completes (success sends nil on
// result) or a fatal error/cancellation occurs (sends the error), then
// keeps running for the life of the connection, handling post-
// registration traffic, PING/PONG, and disconnect.
func (n *Network) runDispatcher(ctx context.Context, result chan<- error) {
	registrationSignaled := false
	signalRegistration := func(err error) {
		if !registrationSignaled {
			registrationSignaled = true
			select {
			case result <- err:
			default:
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			signalRegistration(cancelled("dispatcher cancelled"))
			return
		case ev := <-n.events:
			switch ev.kind {
			case eventRecv:
				n.metrics.receivedOne()
				n.markActivity()
				done, dropped := n.handleCommand(ctx, ev.cmd)
				if !dropped {
					n.commandEvents.Fire(CommandEvent{Command: ev.cmd})
				}
				if done {
					signalRegistration(nil)
				}
			case eventRecvError:
				n.teardown(ev.err)
				signalRegistration(ev.err)
				return
			case eventPingDue:
				n.onPingDue(ctx)
			case eventPingTimeout:
				n.onPingTimeout(ctx, ev.cookie)
				n.teardown(protocolViolation("ping timeout"))
				signalRegistration(protocolViolation("ping timeout"))
				return
			}
		}
	}
}

func (n *Network) failRegistration(err error) {
	n.mu.RLock()
	events := n.events
	n.mu.RUnlock()
	if events == nil {
		return
	}
	select {
	case events <- dispatcherEvent{kind: eventRecvError, err: err}:
	default:
	}
}

func (n *Network) teardown(reason error) {
	n.mu.Lock()
	t := n.transport
	n.transport = nil
	n.phase = PhaseDisconnected
	n.mu.Unlock()
	n.stopPingTimers()
	if t != nil {
		_ = t.Disconnect()
	}
	n.connEvents.Fire(ConnectionEvent{Kind: EventDisconnected, Network: n.name, Err: reason})
}

// Disconnect sends QUIT (best-effort), then tears the connection down
// and emits Disconnected.
func (n *Network) Disconnect(ctx context.Context, reason string) {
	n.mu.RLock()
	t := n.transport
	cancel := n.cancelDisp
	n.mu.RUnlock()
	if t != nil {
		line := "QUIT"
		if reason != "" {
			line = "QUIT :" + reason
		}
		_ = n.unsafeSendRaw(ctx, line)
	}
	if cancel != nil {
		cancel()
	}
	n.teardown(nil)
}

// Dispose permanently shuts the engine down: disposes event registries,
// disposes any active SASL mechanism, and tears down the transport.
// Afterwards checkDisposed reports a Disposed error, but no public method
// calls it, so later calls such as Connect or SendRaw are not rejected
// with Disposed.
func (n *Network) Dispose() {
	n.disposeOnce.Do(func() {
		n.mu.Lock()
		n.disposed = true
		cancel := n.cancelDisp
		mech := n.saslMech
		n.saslMech = nil
		n.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if mech != nil {
			mech.Dispose()
		}
		n.teardown(nil)
		n.connEvents.Dispose()
		n.capEvents.Dispose()
		n.commandEvents.Dispose()
	})
}

func (n *Network) checkDisposed() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.disposed {
		return disposed()
	}
	return nil
}
