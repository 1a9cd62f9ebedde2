package irc

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/skiznet/netwolf-go/sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNetwork_RejectsEmptyServers(t *testing.T) {
	_, err := NewNetwork("net", Options{PrimaryNick: "nick"})
	assert.Error(t, err)
}

func TestNewNetwork_AppliesCodecAndRateLimitDefaults(t *testing.T) {
	n, err := NewNetwork("net", Options{
		PrimaryNick: "nick",
		Servers:     []ServerConfig{{Host: "irc.example.org", Port: 6697, Secure: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultCommandOptions(), n.opts.Codec)
	assert.IsType(t, noRateLimit{}, n.rateLimiter)
}

func TestNewNetwork_BuildsTokenBucketWhenConfigured(t *testing.T) {
	n, err := NewNetwork("net", Options{
		PrimaryNick:        "nick",
		Servers:            []ServerConfig{{Host: "irc.example.org", Port: 6697}},
		RateLimitPerSecond: 2,
		RateLimitBurst:     4,
	})
	require.NoError(t, err)
	_, ok := n.rateLimiter.(*tokenBucketLimiter)
	assert.True(t, ok)
}

// TestRunDispatcher_SignalsOnRegistrationComplete drives a fake 315
// through the event channel and checks the dispatcher reports success
// exactly once, then keeps consuming subsequent traffic.
func TestRunDispatcher_SignalsOnRegistrationComplete(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "nick", Ident: "u"})
	server := attachPipe(n)
	defer server.Close()
	reader := bufio.NewReader(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go n.runDispatcher(ctx, result)

	cmd, err := Parse("315 nick nick :End of WHO list", Server)
	require.NoError(t, err)
	n.events <- dispatcherEvent{kind: eventRecv, cmd: cmd}

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher never signaled registration completion")
	}

	pingCmd, err := Parse("PING :abc", Server)
	require.NoError(t, err)
	n.events <- dispatcherEvent{kind: eventRecv, cmd: pingCmd}
	line := readLineWithTimeout(t, reader)
	assert.Equal(t, "PONG :abc", line)
}

func TestRunDispatcher_PingTimeoutTearsDown(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "nick", Ident: "u"})
	server := attachPipe(n)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go n.runDispatcher(ctx, result)

	n.events <- dispatcherEvent{kind: eventPingTimeout, cookie: "NWPCdead"}

	select {
	case err := <-result:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher never signaled on ping timeout")
	}
	assert.Equal(t, PhaseDisconnected, n.Phase())
}

func TestDispose_IsIdempotentAndDisposesMechanism(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "nick", Ident: "u"})
	server := attachPipe(n)
	defer server.Close()

	disposed := false
	n.saslMech = &disposeTrackingMechanism{onDispose: func() { disposed = true }}

	n.Dispose()
	n.Dispose() // must not panic or double-fire

	assert.True(t, disposed)
	assert.Error(t, n.checkDisposed())
}

type disposeTrackingMechanism struct {
	onDispose func()
}

func (m *disposeTrackingMechanism) Name() string { return "FAKE" }
func (m *disposeTrackingMechanism) SupportsChannelBinding() bool { return false }
func (m *disposeTrackingMechanism) SetChannelBinding(kind sasl.ChannelBindingKind, data []byte) bool {
	return false
}
func (m *disposeTrackingMechanism) Authenticate(ctx context.Context, serverData []byte) (bool, []byte, error) {
	return true, nil, nil
}
func (m *disposeTrackingMechanism) Dispose() {
	if m.onDispose != nil {
		m.onDispose()
	}
}
