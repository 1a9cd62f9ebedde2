package irc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// pingCookieTimer tracks one armed PING-timeout timer. seq establishes
// arrival order so a PONG for a later cookie can retire every earlier
// one too (invariant #6: c1<c2<c3, PONG for c2 retires c1 and c2).
type pingCookieTimer struct {
	cookie string
	seq    int
	timer  *time.Timer
}

func (n *Network) startPingTimer() {
	n.pingMu.Lock()
	defer n.pingMu.Unlock()
	n.pingActive = true
	n.pingLastActivity = true
	n.armIntervalTimerLocked()
}

func (n *Network) armIntervalTimerLocked() {
	if n.opts.PingInterval <= 0 {
		return
	}
	events := n.events
	n.pingIntervalTimer = time.AfterFunc(n.opts.PingInterval, func() {
		select {
		case events <- dispatcherEvent{kind: eventPingDue}:
		default:
		}
	})
}

func (n *Network) markActivity() {
	n.pingMu.Lock()
	defer n.pingMu.Unlock()
	n.pingLastActivity = true
}

// onPingDue fires when the interval timer expires. If traffic arrived
// during the interval, it simply rearms; otherwise it sends a PING and
// arms a timeout timer for the cookie.
func (n *Network) onPingDue(ctx context.Context) {
	n.pingMu.Lock()
	if !n.pingActive {
		n.pingMu.Unlock()
		return
	}
	hadActivity := n.pingLastActivity
	n.pingLastActivity = false
	n.pingMu.Unlock()

	if hadActivity {
		n.pingMu.Lock()
		n.armIntervalTimerLocked()
		n.pingMu.Unlock()
		return
	}

	cookie, err := randomPingCookie()
	if err != nil {
		n.pingMu.Lock()
		n.armIntervalTimerLocked()
		n.pingMu.Unlock()
		return
	}
	token := "NWPC" + cookie
	_ = n.unsafeSendRaw(ctx, "PING "+token)

	n.pingMu.Lock()
	n.nextPingSeq++
	seq := n.nextPingSeq
	events := n.events
	timeout := n.opts.PingTimeout
	ct := &pingCookieTimer{cookie: token, seq: seq}
	if timeout > 0 {
		ct.timer = time.AfterFunc(timeout, func() {
			select {
			case events <- dispatcherEvent{kind: eventPingTimeout, cookie: cookie}:
			default:
			}
		})
	}
	n.pingTimeouts = append(n.pingTimeouts, ct)
	n.pingMu.Unlock()
}

// handlePONG retires the timer for the matching cookie and every timer
// armed before it.
func (n *Network) handlePONG(cmd *Command) {
	if len(cmd.Args) < 2 {
		return
	}
	cookie := cmd.Arg(1)

	n.pingMu.Lock()
	defer n.pingMu.Unlock()

	var matchSeq = -1
	for _, ct := range n.pingTimeouts {
		if ct.cookie == cookie {
			matchSeq = ct.seq
			break
		}
	}
	if matchSeq < 0 {
		return
	}
	var remaining []*pingCookieTimer
	for _, ct := range n.pingTimeouts {
		if ct.seq <= matchSeq {
			if ct.timer != nil {
				ct.timer.Stop()
			}
			continue
		}
		remaining = append(remaining, ct)
	}
	n.pingTimeouts = remaining
	n.pingLastActivity = true
	n.armIntervalTimerLocked()
}

func (n *Network) onPingTimeout(ctx context.Context, cookie string) {
	n.log.Warn("ping timeout", "cookie", cookie)
}

func (n *Network) stopPingTimers() {
	n.pingMu.Lock()
	defer n.pingMu.Unlock()
	if n.pingIntervalTimer != nil {
		n.pingIntervalTimer.Stop()
	}
	for _, ct := range n.pingTimeouts {
		if ct.timer != nil {
			ct.timer.Stop()
		}
	}
	n.pingTimeouts = nil
	n.pingActive = false
}

func randomPingCookie() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", transportErr("generating ping cookie", err)
	}
	return hex.EncodeToString(b), nil
}
