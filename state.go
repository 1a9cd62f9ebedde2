package irc

import (
	"github.com/google/uuid"
)

// UserID and ChannelID are opaque identifiers stable across the
// renaming of the record they point to.
type UserID string
type ChannelID string

// UserRecord is an immutable snapshot of one network user as currently
// known to the client.
type UserRecord struct {
	ID       UserID
	Nick     string
	Ident    string
	Host     string
	Account  string // "" if none
	Away     bool
	RealName string
	// Modes is only meaningful for the client's own user.
	Modes map[byte]struct{}
	// Channels maps channel id to this user's status-prefix string in
	// that channel (e.g. "@", "@+", "").
	Channels map[ChannelID]string
}

func (u UserRecord) clone() UserRecord {
	cp := u
	cp.Modes = cloneByteSet(u.Modes)
	cp.Channels = cloneStringMap(u.Channels)
	return cp
}

func cloneByteSet(m map[byte]struct{}) map[byte]struct{} {
	out := make(map[byte]struct{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap[K comparable](m map[K]string) map[K]string {
	out := make(map[K]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneOptStringMap[K comparable](m map[K]*string) map[K]*string {
	out := make(map[K]*string, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		vv := *v
		out[k] = &vv
	}
	return out
}

// ChannelRecord is an immutable snapshot of one channel the client
// currently has joined.
type ChannelRecord struct {
	ID    ChannelID
	Name  string
	Topic string
	// Modes maps a mode letter to its optional argument (nil for
	// argument-less modes).
	Modes map[byte]*string
	// Users maps user id to that user's status-prefix string.
	Users map[UserID]string
}

func (c ChannelRecord) clone() ChannelRecord {
	cp := c
	cp.Modes = cloneOptStringMap(c.Modes)
	cp.Users = cloneStringMap(c.Users)
	return cp
}

// Limits holds server-advertised connection limits.
type Limits struct {
	LineLength int
}

// NetworkState is an immutable value describing the client's current
// view of the network. Every mutation produces a new NetworkState value
// via the unexported with* methods; no field is ever mutated in place.
type NetworkState struct {
	NetworkName string
	SessionID   uuid.UUID
	CaseMapping CaseMapping

	Users    map[UserID]UserRecord
	Channels map[ChannelID]ChannelRecord

	// nameIndex maps case-folded name to id, for both users ("u:"
	// prefix) and channels ("c:" prefix) so the same folded string for
	// a nick and a channel can coexist.
	nameIndex map[string]string

	SupportedCaps map[string]*string
	EnabledCaps   map[string]struct{}
	Isupport      map[string]*string

	Limits Limits

	SelfID UserID
}

func userKey(name string, m CaseMapping) string { return "u:" + Casefold(name, m) }
func chanKey(name string, m CaseMapping) string { return "c:" + Casefold(name, m) }

// NewNetworkState returns the initial empty state for a freshly opened
// connection attempt.
func NewNetworkState(networkName string, selfID UserID, self UserRecord) *NetworkState {
	s := &NetworkState{
		NetworkName:   networkName,
		SessionID:     uuid.New(),
		CaseMapping:   CaseMappingASCII,
		Users:         map[UserID]UserRecord{selfID: self},
		Channels:      map[ChannelID]ChannelRecord{},
		nameIndex:     map[string]string{},
		SupportedCaps: map[string]*string{},
		EnabledCaps:   map[string]struct{}{},
		Isupport:      map[string]*string{},
		Limits:        Limits{LineLength: minLineLengthBudget},
		SelfID:        selfID,
	}
	s.nameIndex[userKey(self.Nick, s.CaseMapping)] = string(selfID)
	return s
}

// clone returns a shallow-structural copy whose top-level maps are new
// (so the caller can mutate them) but whose element values are shared
// until individually replaced.
func (s *NetworkState) clone() *NetworkState {
	cp := *s
	cp.Users = make(map[UserID]UserRecord, len(s.Users))
	for k, v := range s.Users {
		cp.Users[k] = v
	}
	cp.Channels = make(map[ChannelID]ChannelRecord, len(s.Channels))
	for k, v := range s.Channels {
		cp.Channels[k] = v
	}
	cp.nameIndex = make(map[string]string, len(s.nameIndex))
	for k, v := range s.nameIndex {
		cp.nameIndex[k] = v
	}
	cp.SupportedCaps = cloneOptStringMap(s.SupportedCaps)
	cp.EnabledCaps = make(map[string]struct{}, len(s.EnabledCaps))
	for k, v := range s.EnabledCaps {
		cp.EnabledCaps[k] = v
	}
	cp.Isupport = cloneOptStringMap(s.Isupport)
	return &cp
}

// --- read views ---

// GetUserByNick looks up a user by nick, folding through the current
// case mapping.
func (s *NetworkState) GetUserByNick(nick string) (UserRecord, bool) {
	id, ok := s.nameIndex[userKey(nick, s.CaseMapping)]
	if !ok {
		return UserRecord{}, false
	}
	u, ok := s.Users[UserID(id)]
	return u, ok
}

// GetUser looks up a user by id.
func (s *NetworkState) GetUser(id UserID) (UserRecord, bool) {
	u, ok := s.Users[id]
	return u, ok
}

// GetChannel looks up a channel by name, folding through the current
// case mapping.
func (s *NetworkState) GetChannel(name string) (ChannelRecord, bool) {
	id, ok := s.nameIndex[chanKey(name, s.CaseMapping)]
	if !ok {
		return ChannelRecord{}, false
	}
	c, ok := s.Channels[ChannelID(id)]
	return c, ok
}

// GetChannelByID looks up a channel by id.
func (s *NetworkState) GetChannelByID(id ChannelID) (ChannelRecord, bool) {
	c, ok := s.Channels[id]
	return c, ok
}

// GetUsersInChannel returns the users currently in channel name.
func (s *NetworkState) GetUsersInChannel(name string) []UserRecord {
	ch, ok := s.GetChannel(name)
	if !ok {
		return nil
	}
	out := make([]UserRecord, 0, len(ch.Users))
	for uid := range ch.Users {
		if u, ok := s.Users[uid]; ok {
			out = append(out, u)
		}
	}
	return out
}

// GetChannelsForUser returns the channels the named user shares with
// the client.
func (s *NetworkState) GetChannelsForUser(nick string) []ChannelRecord {
	u, ok := s.GetUserByNick(nick)
	if !ok {
		return nil
	}
	out := make([]ChannelRecord, 0, len(u.Channels))
	for cid := range u.Channels {
		if c, ok := s.Channels[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// GetAllUsers returns every currently tracked user.
func (s *NetworkState) GetAllUsers() []UserRecord {
	out := make([]UserRecord, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, u)
	}
	return out
}

// IsCapEnabled reports whether name is enabled, and its cached value if
// one was advertised.
func (s *NetworkState) IsCapEnabled(name string) (enabled bool, value string) {
	_, enabled = s.EnabledCaps[name]
	if v, ok := s.SupportedCaps[name]; ok && v != nil {
		value = *v
	}
	return
}

// IsupportToken returns the raw value for an ISUPPORT token, or "",false if
// the token was never advertised.
func (s *NetworkState) IsupportToken(token string) (string, bool) {
	v, ok := s.Isupport[token]
	if !ok {
		return "", false
	}
	if v == nil {
		return "", true
	}
	return *v, true
}

// IsupportOrDefault returns the ISUPPORT value for token, or def if it
// was never advertised.
func (s *NetworkState) IsupportOrDefault(token, def string) string {
	if v, ok := s.IsupportToken(token); ok {
		return v
	}
	return def
}

var isupportDefaults = map[string]string{
	"CHANTYPES":   "#&",
	"CHANMODES":   "b,k,l,imnpst",
	"PREFIX":      "(ov)@+",
	"CASEMAPPING": "ascii",
}

func isupportDefault(token string) string {
	if v, ok := isupportDefaults[token]; ok {
		return v
	}
	return ""
}

// ChannelPrefixModes returns the mode-letters portion of PREFIX, e.g.
// "ov" for "(ov)@+".
func (s *NetworkState) ChannelPrefixModes() string {
	modes, _ := splitPrefixToken(s.IsupportOrDefault("PREFIX", isupportDefaults["PREFIX"]))
	return modes
}

// ChannelPrefixSymbols returns the symbols portion of PREFIX, e.g. "@+".
func (s *NetworkState) ChannelPrefixSymbols() string {
	_, symbols := splitPrefixToken(s.IsupportOrDefault("PREFIX", isupportDefaults["PREFIX"]))
	return symbols
}

func splitPrefixToken(raw string) (modes, symbols string) {
	if len(raw) == 0 || raw[0] != '(' {
		return "", ""
	}
	close := -1
	for i := 1; i < len(raw); i++ {
		if raw[i] == ')' {
			close = i
			break
		}
	}
	if close < 0 {
		return "", ""
	}
	return raw[1:close], raw[close+1:]
}
