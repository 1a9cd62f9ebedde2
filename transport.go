package irc

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"golang.org/x/net/idna"
)

// ServerAddr names one candidate server in a network's server list.
type ServerAddr struct {
	Host   string
	Port   int
	Secure bool
}

// TrustPolicy configures the custom certificate trust evaluated during a
// TLS handshake, applied in the order documented on verify.
type TrustPolicy struct {
	AcceptAll                    bool
	CheckOnlineRevocation        bool
	TrustedCertFingerprints      []string // normalised SHA-256 hex, uppercase, no ':'
	TrustedPublicKeyFingerprints []string
}

// BuildTLSConfig returns a *tls.Config wired to enforce p via
// VerifyConnection (which disables Go's default chain verification so
// our policy has the final say).
func (p TrustPolicy) BuildTLSConfig(serverName string) *tls.Config {
	cfg := &tls.Config{
		ServerName:         normalizeServerName(serverName),
		InsecureSkipVerify: true, // we implement verification ourselves
		NextProtos:         []string{"irc"},
	}
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return p.verify(cs)
	}
	return cfg
}

func normalizeServerName(name string) string {
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		return ascii
	}
	return name
}

// verify implements the trust policy order from the transport design:
// (a) no cert presented -> reject; (b) accept_all -> accept; (c)
// revocation reported -> reject regardless; (d) cert-fingerprint
// allowlist -> accept iff matched, ignoring CA errors; (e) else
// public-key-fingerprint allowlist -> accept iff matched; (f) else
// accept iff the chain verifies against the system roots for the server
// name (verifyAgainstSystemRoots), since the handshake itself skips
// verification.
func (p TrustPolicy) verify(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return transportErr("no certificate presented", nil)
	}
	if p.AcceptAll {
		return nil
	}
	leaf := cs.PeerCertificates[0]
	if p.CheckOnlineRevocation {
		var issuer *x509.Certificate
		if len(cs.PeerCertificates) > 1 {
			issuer = cs.PeerCertificates[1]
		}
		if certificateRevoked(leaf, issuer) {
			return transportErr("certificate revoked", nil)
		}
	}
	if len(p.TrustedCertFingerprints) > 0 {
		if fingerprintMatches(certSHA256(leaf.Raw), p.TrustedCertFingerprints) {
			return nil
		}
		return transportErr("certificate fingerprint not trusted", nil)
	}
	if len(p.TrustedPublicKeyFingerprints) > 0 {
		if fingerprintMatches(certSHA256(leaf.RawSubjectPublicKeyInfo), p.TrustedPublicKeyFingerprints) {
			return nil
		}
		return transportErr("public key fingerprint not trusted", nil)
	}
	return verifyAgainstSystemRoots(cs)
}

// normalizeFingerprint strips ':' separators and uppercases, matching
// the configuration format accepted from users.
func normalizeFingerprint(fp string) string {
	out := make([]byte, 0, len(fp))
	for i := 0; i < len(fp); i++ {
		c := fp[i]
		if c == ':' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 0x20
		}
		out = append(out, c)
	}
	return string(out)
}

func fingerprintMatches(hash string, allowlist []string) bool {
	for _, fp := range allowlist {
		if normalizeFingerprint(fp) == hash {
			return true
		}
	}
	return false
}

// ConnectOptions configures a single Transport.Connect call.
type ConnectOptions struct {
	BindHost string
	Trust    TrustPolicy
}

// Transport owns one TCP (optionally TLS) socket and the growable byte
// buffer used to frame inbound lines.
type Transport struct {
	conn    net.Conn
	tlsConn *tls.Conn
	buf     *frameBuffer
	closed  bool
}

const (
	readBufStart    = 12 * 1024 // 12 KiB, a multiple of common page sizes
	readChunkMin    = 512
	readBufMax      = 2 * 1024 * 1024
	maxUnparsedLine = 8704
)

// Connect dials host:port, optionally binding a local address, and
// performs a TLS handshake (with opts.Trust enforced) if server.Secure.
// Cancelling ctx mid-handshake closes any partial resources.
func Connect(ctx context.Context, server ServerAddr, opts ConnectOptions) (*Transport, error) {
	dialer := &net.Dialer{}
	if opts.BindHost != "" {
		dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(opts.BindHost)}
	}

	addr := net.JoinHostPort(server.Host, portString(server.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled("connect cancelled")
		}
		return nil, transportErr("tcp dial failed", err)
	}

	t := &Transport{conn: conn, buf: newFrameBuffer()}

	if server.Secure {
		tlsCfg := opts.Trust.BuildTLSConfig(server.Host)
		tlsConn := tls.Client(conn, tlsCfg)
		done := make(chan error, 1)
		go func() { done <- tlsConn.HandshakeContext(ctx) }()
		select {
		case err := <-done:
			if err != nil {
				conn.Close()
				if ctx.Err() != nil {
					return nil, cancelled("tls handshake cancelled")
				}
				return nil, transportErr("tls handshake failed", err)
			}
		case <-ctx.Done():
			conn.Close()
			return nil, cancelled("tls handshake cancelled")
		}
		t.tlsConn = tlsConn
		t.conn = tlsConn
	}

	return t, nil
}

func portString(p int) string {
	if p <= 0 {
		return "0"
	}
	digits := [6]byte{}
	i := len(digits)
	for p > 0 {
		i--
		digits[i] = byte('0' + p%10)
		p /= 10
	}
	return string(digits[i:])
}

// SendRaw UTF-8 encodes line, appends CR LF, and writes it without any
// validation.
func (t *Transport) SendRaw(ctx context.Context, line string) error {
	return t.writeAll(ctx, append([]byte(line), '\r', '\n'))
}

// Send serializes cmd's full wire form and sends it.
func (t *Transport) Send(ctx context.Context, cmd *Command) error {
	return t.SendRaw(ctx, cmd.String())
}

func (t *Transport) writeAll(ctx context.Context, b []byte) error {
	if t.closed {
		return transportErr("write on closed transport", nil)
	}
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := t.conn.Write(b)
		done <- result{err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return transportErr("write failed", r.err)
		}
		return nil
	case <-ctx.Done():
		return cancelled("write cancelled")
	}
}

// Receive returns the next parsed inbound command, reading more bytes
// from the socket as needed.
func (t *Transport) Receive(ctx context.Context) (*Command, error) {
	for {
		if line, ok := t.buf.takeLine(); ok {
			decoded := lenientUTF8(line)
			return Parse(decoded, Server)
		}
		if t.buf.unparsedLen() >= maxUnparsedLine {
			return nil, protocolViolation("line too long")
		}
		n, err := t.readMore(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, transportErr("connection closed", nil)
		}
	}
}

func (t *Transport) readMore(ctx context.Context) (int, error) {
	if t.closed {
		return 0, transportErr("read on closed transport", nil)
	}
	chunk := t.buf.growForRead()
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := t.conn.Read(chunk)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return 0, transportErr("read failed", r.err)
		}
		t.buf.commitRead(r.n)
		return r.n, nil
	case <-ctx.Done():
		return 0, cancelled("read cancelled")
	}
}

// Disconnect cancels pending I/O (by closing the socket, which unblocks
// any in-flight Read/Write) and disposes the TLS session.
func (t *Transport) Disconnect() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// ChannelBindingKind selects which TLS channel-binding data to fetch.
type ChannelBindingKind int

const (
	ChannelBindingUnique ChannelBindingKind = iota
	ChannelBindingEndpoint
)

// ChannelBinding returns opaque channel-binding bytes for the active TLS
// session, or nil if unavailable (including Unique on TLS 1.3+, and
// always when the transport is not secured).
func (t *Transport) ChannelBinding(kind ChannelBindingKind) []byte {
	if t.tlsConn == nil {
		return nil
	}
	cs := t.tlsConn.ConnectionState()
	switch kind {
	case ChannelBindingUnique:
		if cs.Version >= tls.VersionTLS13 {
			return nil
		}
		// crypto/tls leaves TLSUnique nil for resumed sessions that lack
		// Extended Master Secret, which reports the binding unavailable.
		return cs.TLSUnique
	case ChannelBindingEndpoint:
		if len(cs.PeerCertificates) == 0 {
			return nil
		}
		return tlsExporterEndpoint(cs.PeerCertificates[0].Raw)
	}
	return nil
}

// frameBuffer is a growable, pipelined byte reader that searches for
// CRLF-terminated lines. data[:length] holds bytes read from the
// socket; data[:parsed] of those have already been consumed as
// complete lines.
type frameBuffer struct {
	data   []byte
	length int
	parsed int
}

func newFrameBuffer() *frameBuffer {
	return &frameBuffer{data: make([]byte, readBufStart)}
}

// takeLine extracts the next complete CRLF-terminated line, if any.
func (b *frameBuffer) takeLine() (string, bool) {
	unparsed := b.data[b.parsed:b.length]
	idx := bytes.Index(unparsed, []byte("\r\n"))
	if idx < 0 {
		return "", false
	}
	line := string(unparsed[:idx])
	b.parsed += idx + 2
	b.compact()
	return line, true
}

func (b *frameBuffer) unparsedLen() int { return b.length - b.parsed }

// growForRead returns a slice to read the next chunk into, growing the
// backing array if needed (min chunk 512B, cap 2MiB).
func (b *frameBuffer) growForRead() []byte {
	need := b.length + readChunkMin
	if len(b.data) < need {
		grown := len(b.data) * 2
		if grown < need {
			grown = need
		}
		if grown > readBufMax {
			grown = readBufMax
		}
		nb := make([]byte, grown)
		copy(nb, b.data[:b.length])
		b.data = nb
	}
	return b.data[b.length:]
}

func (b *frameBuffer) commitRead(n int) { b.length += n }

// compact discards already-parsed bytes once they no longer need to stay
// in the buffer, keeping memory bounded for long-lived connections.
func (b *frameBuffer) compact() {
	if b.parsed == 0 {
		return
	}
	if b.parsed == b.length {
		b.length = 0
		b.parsed = 0
		return
	}
	if b.parsed > readBufStart {
		copy(b.data, b.data[b.parsed:b.length])
		b.length -= b.parsed
		b.parsed = 0
	}
}

// lenientUTF8 replaces invalid byte sequences with U+FFFD while decoding.
func lenientUTF8(s string) string {
	// Go strings are already byte slices; ranging over a string with
	// invalid UTF-8 already yields RuneError per invalid byte, which is
	// exactly the lenient decode behaviour we want. Rebuilding through
	// that iteration normalises any invalid sequences.
	var out []rune
	for _, r := range s {
		out = append(out, r)
	}
	return string(out)
}
