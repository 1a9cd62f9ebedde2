package irc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeTransport() (*Transport, net.Conn) {
	client, server := net.Pipe()
	return &Transport{conn: client, buf: newFrameBuffer()}, server
}

func TestTransportSendRaw(t *testing.T) {
	tr, server := pipeTransport()
	defer tr.Disconnect()

	go func() {
		require.NoError(t, tr.SendRaw(context.Background(), "PING abc"))
	}()

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "PING abc\r\n", string(buf[:n]))
}

func TestTransportReceiveFramesLine(t *testing.T) {
	tr, server := pipeTransport()
	defer tr.Disconnect()

	go func() {
		_, _ = server.Write([]byte("PING abc\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PING", cmd.Verb)
	assert.Equal(t, []string{"abc"}, cmd.Args)
}

func TestTransportReceivePipelinedLines(t *testing.T) {
	tr, server := pipeTransport()
	defer tr.Disconnect()

	go func() {
		_, _ = server.Write([]byte("PING a\r\nPING b\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd1, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, cmd1.Args)

	cmd2, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, cmd2.Args)
}

func TestTransportLineTooLong(t *testing.T) {
	tr, server := pipeTransport()
	defer tr.Disconnect()

	long := make([]byte, maxUnparsedLine+1)
	for i := range long {
		long[i] = 'x'
	}
	go func() {
		_, _ = server.Write(long)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestTransportReceiveCancelled(t *testing.T) {
	tr, _ := pipeTransport()
	defer tr.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Receive(ctx)
	assert.Error(t, err)
}

func TestFingerprintNormalization(t *testing.T) {
	assert.Equal(t, "AABBCC", normalizeFingerprint("aa:bb:cc"))
	assert.Equal(t, "AABBCC", normalizeFingerprint("AA:BB:CC"))
}
