package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *NetworkState {
	self := UserRecord{ID: "u-self", Nick: "me", Channels: map[ChannelID]string{}}
	return NewNetworkState("testnet", "u-self", self)
}

func TestCasefoldIdempotent(t *testing.T) {
	for _, m := range []CaseMapping{CaseMappingASCII, CaseMappingRFC1459, CaseMappingRFC1459Strict} {
		s := "Foo{Bar}|Baz~"
		assert.Equal(t, Casefold(s, m), Casefold(Casefold(s, m), m))
	}
}

func TestIrcEqualsEquivalence(t *testing.T) {
	m := CaseMappingRFC1459
	a, b, c := "Foo{}", "foo[]", "FOO{}"
	assert.True(t, IrcEquals(a, a, m))
	assert.Equal(t, IrcEquals(a, b, m), IrcEquals(b, a, m))
	assert.True(t, IrcEquals(a, b, m))
	assert.True(t, IrcEquals(b, c, m))
	assert.True(t, IrcEquals(a, c, m))
}

func TestUserJoinPartInvariant(t *testing.T) {
	s := newTestState()
	s = s.withChannel(ChannelRecord{ID: "c1", Name: "#chan", Modes: map[byte]*string{}, Users: map[UserID]string{}})
	s = s.withUser(UserRecord{ID: "u1", Nick: "alice", Channels: map[ChannelID]string{}})
	s = s.joinMembership("c1", "u1", "")
	s = s.joinMembership("c1", "u-self", "")

	u, ok := s.GetUser("u1")
	require.True(t, ok)
	assert.Contains(t, u.Channels, ChannelID("c1"))
	ch, ok := s.GetChannelByID("c1")
	require.True(t, ok)
	assert.Contains(t, ch.Users, UserID("u1"))

	s = s.partMembership("c1", "u1")
	_, ok = s.GetUser("u1")
	assert.False(t, ok, "user with no shared channels should be pruned")

	ch, _ = s.GetChannelByID("c1")
	assert.NotContains(t, ch.Users, UserID("u1"))
}

func TestSelfUserNeverPruned(t *testing.T) {
	s := newTestState()
	s = s.withChannel(ChannelRecord{ID: "c1", Name: "#chan", Modes: map[byte]*string{}, Users: map[UserID]string{}})
	s = s.joinMembership("c1", "u-self", "")
	s = s.partMembership("c1", "u-self")
	_, ok := s.GetUser("u-self")
	assert.True(t, ok)
}

func TestLookupIndexConsistency(t *testing.T) {
	s := newTestState()
	s = s.withUser(UserRecord{ID: "u1", Nick: "Alice", Channels: map[ChannelID]string{}})
	u, ok := s.GetUserByNick("alice")
	require.True(t, ok)
	assert.Equal(t, IrcEquals(u.Nick, "alice", s.CaseMapping), true)
}

func TestCasemappingChangeRebuildsNickIndex(t *testing.T) {
	s := newTestState()
	s = s.withUser(UserRecord{ID: "u1", Nick: "Foo", Channels: map[ChannelID]string{}})
	s = s.withUser(UserRecord{ID: "u2", Nick: "foo", Channels: map[ChannelID]string{}})
	_, ok1 := s.GetUserByNick("Foo")
	_, ok2 := s.GetUserByNick("foo")
	assert.True(t, ok1)
	assert.True(t, ok2)

	s2 := s.withIsupport([]string{"CASEMAPPING=rfc1459"})
	assert.Equal(t, CaseMappingRFC1459, s2.CaseMapping)

	s3 := s2.withUser(UserRecord{ID: "u3", Nick: "Foo", Channels: map[ChannelID]string{}})
	got, ok := s3.GetUserByNick("foo")
	require.True(t, ok)
	assert.Equal(t, UserID("u3"), got.ID)
}

func TestIsupportIdempotent(t *testing.T) {
	s := newTestState()
	s1 := s.withIsupport([]string{"CHANTYPES=#", "PREFIX=(ov)@+"})
	s2 := s1.withIsupport([]string{"CHANTYPES=#", "PREFIX=(ov)@+"})
	assert.Equal(t, s1.Isupport, s2.Isupport)
}

func TestLinelenMaxOfOldAndNew(t *testing.T) {
	s := newTestState()
	s = s.withIsupport([]string{"LINELEN=1024"})
	assert.Equal(t, 1024, s.Limits.LineLength)
	s = s.withIsupport([]string{"LINELEN=512"})
	assert.Equal(t, 1024, s.Limits.LineLength, "LINELEN should only ever increase")
	s = s.withIsupport([]string{"LINELEN=2048"})
	assert.Equal(t, 2048, s.Limits.LineLength)
}

func TestIsupportDefaults(t *testing.T) {
	s := newTestState()
	assert.Equal(t, "#&", s.IsupportOrDefault("CHANTYPES", isupportDefaults["CHANTYPES"]))
	assert.Equal(t, "ov", s.ChannelPrefixModes())
	assert.Equal(t, "@+", s.ChannelPrefixSymbols())
}

func TestIsupportRemoval(t *testing.T) {
	s := newTestState()
	s = s.withIsupport([]string{"FOO=bar"})
	_, ok := s.IsupportToken("FOO")
	assert.True(t, ok)
	s = s.withIsupport([]string{"-FOO"})
	_, ok = s.IsupportToken("FOO")
	assert.False(t, ok)
}
