package irc

import "context"

// handleRegistrationPhase processes messages relevant only while
// pre-registered. Returns true once registration is complete (315, end
// of the self-WHO the engine sends after MOTD).
func (n *Network) handleRegistrationPhase(ctx context.Context, cmd *Command) (done bool) {
	switch cmd.Verb {
	case "001":
		if len(cmd.Args) > 0 {
			n.mu.Lock()
			n.currentNick = cmd.Arg(0)
			n.mu.Unlock()
		}
	case "432", "433":
		n.handleNickRejected(ctx, cmd)
	case "376", "422":
		n.mu.RLock()
		nick := n.currentNick
		n.mu.RUnlock()
		_ = n.unsafeSendRaw(ctx, "WHO "+nick)
	case "315":
		n.mu.Lock()
		n.registered = true
		n.mu.Unlock()
		return true
	case "410":
		// Guard against looping if the command that failed was itself
		// CAP END: sendCapEnd is idempotent via capEndSent.
		n.sendCapEnd(ctx)
	case "MODE":
		// Self MODE can arrive before 315 (end of the registration WHO);
		// ingest it without requiring isRegistered.
		n.handleMode(cmd)
	}
	return false
}

func (n *Network) handleNickRejected(ctx context.Context, cmd *Command) {
	attempted := ""
	if len(cmd.Args) > 1 {
		attempted = cmd.Arg(1)
	}

	n.mu.Lock()
	primary := n.opts.PrimaryNick
	secondary := n.opts.secondaryNickOrDefault()
	n.mu.Unlock()

	switch attempted {
	case primary:
		n.mu.Lock()
		n.currentNick = secondary
		n.mu.Unlock()
		_ = n.unsafeSendRaw(ctx, "NICK "+secondary)
	case secondary:
		n.log.Warn("secondary nick also rejected during registration", "nick", secondary)
	}
}
