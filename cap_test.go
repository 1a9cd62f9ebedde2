package irc

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/skiznet/netwolf-go/sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCapRequests_StaysWithinReqByteBudget(t *testing.T) {
	nick := "abcdefgh"
	source := "abcdefgh!u@host.example.com"
	budget := capReqReserve - len(nick) - len(source)

	caps := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		caps = append(caps, "draft/some-capability-name-"+string(rune('a'+i%26)))
	}

	lines := chunkCapRequests(caps, nick, source)
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), budget)
	}
}

func TestDecideCapsToRequest_DefaultSetAndFilter(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "n", Ident: "u"})
	supported := map[string]*string{
		"server-time":   nil,
		"some-unlisted": nil,
	}
	reqs := n.decideCapsToRequest(supported)
	assert.Contains(t, reqs, "server-time")
	assert.NotContains(t, reqs, "some-unlisted")

	n.opts.ShouldEnableCap = func(name string) bool { return name == "some-unlisted" }
	reqs = n.decideCapsToRequest(supported)
	assert.Contains(t, reqs, "some-unlisted")
}

// TestCapNegotiationThenSaslHappyPath drives a full negotiation: CAP LS
// advertises sasl=PLAIN,EXTERNAL plus two plain caps; with EXTERNAL
// disabled the engine requests all three, then on ACK starts PLAIN
// SASL and completes on 903.
func TestCapNegotiationThenSaslHappyPath(t *testing.T) {
	n := newTestNetwork(Options{
		PrimaryNick:       "user",
		Ident:             "u",
		UseSASL:           true,
		AccountPassword:   "p",
		DisabledSaslMechs: []string{"EXTERNAL"},
	})
	n.saslFactory = &fakeSaslFactory{}
	server := attachPipe(n)
	defer server.Close()
	reader := bufio.NewReader(server)
	ctx := context.Background()

	lsCmd, err := Parse("CAP * LS :sasl=PLAIN,EXTERNAL message-tags server-time", Server)
	require.NoError(t, err)
	n.handleCAP(ctx, lsCmd)

	reqLine := readLineWithTimeout(t, reader)
	require.True(t, strings.HasPrefix(reqLine, "CAP REQ :"))
	reqd := strings.Fields(strings.TrimPrefix(reqLine, "CAP REQ :"))
	assert.ElementsMatch(t, []string{"sasl", "message-tags", "server-time"}, reqd)

	ackCmd, err := Parse("CAP * ACK :sasl message-tags server-time", Server)
	require.NoError(t, err)
	n.handleCAP(ctx, ackCmd)

	authLine := readLineWithTimeout(t, reader)
	assert.Equal(t, "AUTHENTICATE PLAIN", authLine)

	plusCmd, err := Parse("AUTHENTICATE +", Server)
	require.NoError(t, err)
	n.handleAUTHENTICATE(ctx, plusCmd)

	b64Line := readLineWithTimeout(t, reader)
	require.True(t, strings.HasPrefix(b64Line, "AUTHENTICATE "))

	successCmd, err := Parse("903 user :SASL authentication successful", Server)
	require.NoError(t, err)
	n.handleSaslNumeric(ctx, successCmd)

	endLine := readLineWithTimeout(t, reader)
	assert.Equal(t, "CAP END", endLine)
}

type fakeSaslFactory struct{}

func (f *fakeSaslFactory) Supported() []string { return []string{"PLAIN"} }
func (f *fakeSaslFactory) Create(name string) (sasl.Mechanism, error) {
	return &fakePlainMechanism{}, nil
}

// fakePlainMechanism mimics a PLAIN client: it has exactly one thing to
// send and treats any server continuation as success.
type fakePlainMechanism struct {
	sent bool
}

func (m *fakePlainMechanism) Name() string { return "PLAIN" }
func (m *fakePlainMechanism) SupportsChannelBinding() bool { return false }
func (m *fakePlainMechanism) SetChannelBinding(kind sasl.ChannelBindingKind, data []byte) bool {
	return false
}
func (m *fakePlainMechanism) Authenticate(ctx context.Context, serverData []byte) (bool, []byte, error) {
	if m.sent {
		return true, nil, nil
	}
	m.sent = true
	return true, []byte("\x00user\x00p"), nil
}
func (m *fakePlainMechanism) Dispose() {}
