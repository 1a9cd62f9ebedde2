package irc

// The mutation methods below are the only way NetworkState changes: each
// returns a new *NetworkState built by structural sharing from the
// receiver. They are unexported because only the protocol engine is
// permitted to swap the state it owns; external callers only ever see
// immutable snapshots.

// withUser inserts or replaces a user record, reindexing its nick.
func (s *NetworkState) withUser(u UserRecord) *NetworkState {
	cp := s.clone()
	if old, ok := cp.Users[u.ID]; ok {
		delete(cp.nameIndex, userKey(old.Nick, cp.CaseMapping))
	}
	cp.Users[u.ID] = u
	cp.nameIndex[userKey(u.Nick, cp.CaseMapping)] = string(u.ID)
	return cp
}

// withoutUser removes a user entirely (QUIT, or no longer sharing a
// channel).
func (s *NetworkState) withoutUser(id UserID) *NetworkState {
	cp := s.clone()
	if u, ok := cp.Users[id]; ok {
		delete(cp.nameIndex, userKey(u.Nick, cp.CaseMapping))
		delete(cp.Users, id)
	}
	return cp
}

// withChannel inserts or replaces a channel record, reindexing its name.
func (s *NetworkState) withChannel(c ChannelRecord) *NetworkState {
	cp := s.clone()
	if old, ok := cp.Channels[c.ID]; ok {
		delete(cp.nameIndex, chanKey(old.Name, cp.CaseMapping))
	}
	cp.Channels[c.ID] = c
	cp.nameIndex[chanKey(c.Name, cp.CaseMapping)] = string(c.ID)
	return cp
}

// withoutChannel removes a channel entirely (self PART/KICK).
func (s *NetworkState) withoutChannel(id ChannelID) *NetworkState {
	cp := s.clone()
	if c, ok := cp.Channels[id]; ok {
		delete(cp.nameIndex, chanKey(c.Name, cp.CaseMapping))
		delete(cp.Channels, id)
	}
	return cp
}

// joinMembership adds user uid to channel cid with the given status
// prefix, updating both sides of the edge.
func (s *NetworkState) joinMembership(cid ChannelID, uid UserID, prefix string) *NetworkState {
	cp := s.clone()
	if ch, ok := cp.Channels[cid]; ok {
		ch = ch.clone()
		ch.Users[uid] = prefix
		cp.Channels[cid] = ch
	}
	if u, ok := cp.Users[uid]; ok {
		u = u.clone()
		u.Channels[cid] = prefix
		cp.Users[uid] = u
	}
	return cp
}

// partMembership removes user uid from channel cid, pruning the user
// entirely if they no longer share any channel with the client.
func (s *NetworkState) partMembership(cid ChannelID, uid UserID) *NetworkState {
	cp := s.clone()
	if ch, ok := cp.Channels[cid]; ok {
		ch = ch.clone()
		delete(ch.Users, uid)
		cp.Channels[cid] = ch
	}
	if u, ok := cp.Users[uid]; ok {
		u = u.clone()
		delete(u.Channels, cid)
		cp.Users[uid] = u
		if len(u.Channels) == 0 && uid != cp.SelfID {
			delete(cp.nameIndex, userKey(u.Nick, cp.CaseMapping))
			delete(cp.Users, uid)
		}
	}
	return cp
}

// renameUser updates a user's nick, reindexing it.
func (s *NetworkState) renameUser(id UserID, newNick string) *NetworkState {
	cp := s.clone()
	u, ok := cp.Users[id]
	if !ok {
		return cp
	}
	delete(cp.nameIndex, userKey(u.Nick, cp.CaseMapping))
	u = u.clone()
	u.Nick = newNick
	cp.Users[id] = u
	cp.nameIndex[userKey(newNick, cp.CaseMapping)] = string(id)
	return cp
}

// renameChannel updates a channel's name, reindexing it.
func (s *NetworkState) renameChannel(id ChannelID, newName string) *NetworkState {
	cp := s.clone()
	c, ok := cp.Channels[id]
	if !ok {
		return cp
	}
	delete(cp.nameIndex, chanKey(c.Name, cp.CaseMapping))
	c = c.clone()
	c.Name = newName
	cp.Channels[id] = c
	cp.nameIndex[chanKey(newName, cp.CaseMapping)] = string(id)
	return cp
}

// withCaseMapping rebuilds the whole name index under a new case
// mapping, e.g. on a CASEMAPPING ISUPPORT change.
func (s *NetworkState) withCaseMapping(m CaseMapping) *NetworkState {
	cp := s.clone()
	cp.CaseMapping = m
	cp.nameIndex = make(map[string]string, len(s.Users)+len(s.Channels))
	for id, u := range cp.Users {
		cp.nameIndex[userKey(u.Nick, m)] = string(id)
	}
	for id, c := range cp.Channels {
		cp.nameIndex[chanKey(c.Name, m)] = string(id)
	}
	return cp
}

// withIsupport applies one ISUPPORT (005) token line. Tokens prefixed
// with '-' are removals. Re-applying the same line is idempotent.
func (s *NetworkState) withIsupport(tokens []string) *NetworkState {
	cp := s.clone()
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if tok[0] == '-' {
			delete(cp.Isupport, tok[1:])
			continue
		}
		key := tok
		var val *string
		if idx := indexByte(tok, '='); idx >= 0 {
			key = tok[:idx]
			v := tok[idx+1:]
			val = &v
		}
		if key == "LINELEN" && val != nil {
			if n, ok := parsePositiveInt(*val); ok && n > cp.Limits.LineLength {
				cp.Limits.LineLength = n
			}
			cp.Isupport[key] = val
			continue
		}
		cp.Isupport[key] = val
		if key == "CASEMAPPING" && val != nil {
			cp = cp.withCaseMapping(ParseCaseMapping(*val))
		}
	}
	return cp
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func parsePositiveInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// withEnabledCap marks a cap as enabled/disabled.
func (s *NetworkState) withEnabledCap(name string, enabled bool) *NetworkState {
	cp := s.clone()
	if enabled {
		cp.EnabledCaps[name] = struct{}{}
	} else {
		delete(cp.EnabledCaps, name)
	}
	return cp
}

// withSupportedCap caches a CAP LS-advertised value for name.
func (s *NetworkState) withSupportedCap(name string, value *string) *NetworkState {
	cp := s.clone()
	cp.SupportedCaps[name] = value
	return cp
}

// withSelfModes replaces the self user's mode-letter set.
func (s *NetworkState) withSelfModes(modes map[byte]struct{}) *NetworkState {
	u, ok := s.Users[s.SelfID]
	if !ok {
		return s
	}
	u = u.clone()
	u.Modes = modes
	return s.withUser(u)
}

// withChannelTopic replaces a channel's topic.
func (s *NetworkState) withChannelTopic(id ChannelID, topic string) *NetworkState {
	cp := s.clone()
	c, ok := cp.Channels[id]
	if !ok {
		return cp
	}
	c = c.clone()
	c.Topic = topic
	cp.Channels[id] = c
	return cp
}

// withChannelMode sets or clears a channel mode letter's argument; pass
// present=false to clear it entirely.
func (s *NetworkState) withChannelMode(id ChannelID, letter byte, present bool, arg *string) *NetworkState {
	cp := s.clone()
	c, ok := cp.Channels[id]
	if !ok {
		return cp
	}
	c = c.clone()
	if present {
		c.Modes[letter] = arg
	} else {
		delete(c.Modes, letter)
	}
	cp.Channels[id] = c
	return cp
}

// withMembershipPrefix replaces a user's status-prefix string in a
// channel (both sides of the edge).
func (s *NetworkState) withMembershipPrefix(cid ChannelID, uid UserID, prefix string) *NetworkState {
	cp := s.clone()
	if ch, ok := cp.Channels[cid]; ok {
		ch = ch.clone()
		ch.Users[uid] = prefix
		cp.Channels[cid] = ch
	}
	if u, ok := cp.Users[uid]; ok {
		u = u.clone()
		u.Channels[cid] = prefix
		cp.Users[uid] = u
	}
	return cp
}
