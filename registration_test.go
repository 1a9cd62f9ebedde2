package irc

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNickCollisionFallsBackToSecondaryNick checks that a 433 for the
// primary nick sends NICK with the secondary, and a further 433 for the
// secondary is logged but does not loop.
func TestNickCollisionFallsBackToSecondaryNick(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "taken", Ident: "u"})
	server := attachPipe(n)
	defer server.Close()

	reader := bufio.NewReader(server)
	ctx := context.Background()

	cmd, err := Parse("433 * taken :Nickname is already in use", Server)
	require.NoError(t, err)
	done := n.handleRegistrationPhase(ctx, cmd)
	assert.False(t, done)

	line := readLineWithTimeout(t, reader)
	assert.Equal(t, "NICK taken_", line)

	cmd2, err := Parse("433 * taken_ :Nickname is already in use", Server)
	require.NoError(t, err)
	done = n.handleRegistrationPhase(ctx, cmd2)
	assert.False(t, done)

	n.mu.RLock()
	nick := n.currentNick
	n.mu.RUnlock()
	assert.Equal(t, "taken_", nick)
}

func TestRegistrationCompletesOn315(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "nick", Ident: "u"})
	server := attachPipe(n)
	defer server.Close()

	ctx := context.Background()
	cmd, err := Parse("315 nick nick :End of WHO list", Server)
	require.NoError(t, err)
	assert.True(t, n.handleRegistrationPhase(ctx, cmd))
	assert.True(t, n.isRegistered())
}

func TestMotdEndTriggersSelfWho(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "nick", Ident: "u"})
	server := attachPipe(n)
	defer server.Close()
	reader := bufio.NewReader(server)

	cmd, err := Parse("376 nick :End of MOTD command", Server)
	require.NoError(t, err)
	n.handleRegistrationPhase(context.Background(), cmd)

	line := readLineWithTimeout(t, reader)
	assert.Equal(t, "WHO nick", line)
}

func readLineWithTimeout(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	ch := make(chan string, 1)
	go func() {
		line, _ := r.ReadString('\n')
		ch <- line
	}()
	select {
	case line := <-ch:
		return trimCRLF(line)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
