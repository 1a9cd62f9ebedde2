package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMembershipConsistency_JoinsAndPartsStayInSync drives a
// JOIN/JOIN/JOIN/PART sequence and checks that every user's channel
// keyset matches exactly the channels whose user-set contains them.
func TestMembershipConsistency_JoinsAndPartsStayInSync(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "self", Ident: "u"})

	for _, line := range []string{
		":self!u@h JOIN #a",
		":self!u@h JOIN #b",
		":bob!u@h JOIN #a",
		":bob!u@h JOIN #b",
	} {
		cmd, err := Parse(line, Server)
		require.NoError(t, err)
		n.handleJoin(cmd)
	}
	partCmd, err := Parse(":bob!u@h PART #a", Server)
	require.NoError(t, err)
	n.handlePart(partCmd)

	st := n.State()
	assertMembershipConsistent(t, st)

	bob, ok := st.GetUserByNick("bob")
	require.True(t, ok)
	assert.Contains(t, bob.Channels, mustChannelID(t, st, "#b"))
	assert.NotContains(t, bob.Channels, mustChannelID(t, st, "#a"))
}

// TestKickRemovesMembership checks a KICK of a non-self user preserves
// membership consistency, and a self KICK drops the channel entirely.
func TestKickRemovesMembership(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "self", Ident: "u"})
	for _, line := range []string{
		":self!u@h JOIN #a",
		":bob!u@h JOIN #a",
	} {
		cmd, err := Parse(line, Server)
		require.NoError(t, err)
		n.handleJoin(cmd)
	}

	kickCmd, err := Parse(":op!u@h KICK #a bob :bye", Server)
	require.NoError(t, err)
	n.handleKick(kickCmd)

	st := n.State()
	assertMembershipConsistent(t, st)
	_, ok := st.GetUserByNick("bob")
	assert.False(t, ok, "bob should be pruned once sharing no channel")

	selfKick, err := Parse(":op!u@h KICK #a self :bye", Server)
	require.NoError(t, err)
	n.handleKick(selfKick)
	_, ok = n.State().GetChannel("#a")
	assert.False(t, ok)
}

func TestQuitPrunesUser(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "self", Ident: "u"})
	for _, line := range []string{
		":self!u@h JOIN #a",
		":bob!u@h JOIN #a",
	} {
		cmd, err := Parse(line, Server)
		require.NoError(t, err)
		n.handleJoin(cmd)
	}

	quitCmd, err := Parse(":bob!u@h QUIT :leaving", Server)
	require.NoError(t, err)
	n.handleQuit(quitCmd)

	st := n.State()
	assertMembershipConsistent(t, st)
	_, ok := st.GetUserByNick("bob")
	assert.False(t, ok)
}

func TestQuitIgnoresSelfSource(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "self", Ident: "u"})
	quitCmd, err := Parse(":self!u@h QUIT :bye", Server)
	require.NoError(t, err)
	n.handleQuit(quitCmd)

	_, ok := n.State().GetUser(n.State().SelfID)
	assert.True(t, ok, "self must survive an errant self-sourced QUIT")
}

// TestISupportCasemappingRebuild checks that a 005 changing CASEMAPPING
// to rfc1459 does not orphan existing name-index lookups.
func TestISupportCasemappingRebuild(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "self", Ident: "u"})
	joinCmd, err := Parse(":self!u@h JOIN #MyChan", Server)
	require.NoError(t, err)
	n.handleJoin(joinCmd)

	isupportCmd, err := Parse("005 self CASEMAPPING=rfc1459 :are supported by this server", Server)
	require.NoError(t, err)
	n.handleISupport(isupportCmd)

	st := n.State()
	assert.Equal(t, "rfc1459", st.IsupportOrDefault("CASEMAPPING", ""))
	_, ok := st.GetChannel("#MYCHAN")
	assert.True(t, ok, "rfc1459 folds [ ] \\ too but letters still casefold")
}

func TestModePrefixOrdering(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "self", Ident: "u"})
	for _, line := range []string{
		":self!u@h JOIN #a",
		":bob!u@h JOIN #a",
	} {
		cmd, err := Parse(line, Server)
		require.NoError(t, err)
		n.handleJoin(cmd)
	}
	isupportCmd, err := Parse("005 self PREFIX=(ov)@+ :are supported by this server", Server)
	require.NoError(t, err)
	n.handleISupport(isupportCmd)

	modeCmd, err := Parse(":op!u@h MODE #a +o bob", Server)
	require.NoError(t, err)
	n.handleMode(modeCmd)
	modeCmd2, err := Parse(":op!u@h MODE #a +v bob", Server)
	require.NoError(t, err)
	n.handleMode(modeCmd2)

	ch, ok := n.State().GetChannel("#a")
	require.True(t, ok)
	bob, ok := n.State().GetUserByNick("bob")
	require.True(t, ok)
	assert.Equal(t, "@+", ch.Users[bob.ID])
}

func assertMembershipConsistent(t *testing.T, st *NetworkState) {
	t.Helper()
	for _, u := range st.GetAllUsers() {
		for cid := range u.Channels {
			ch, ok := st.GetChannelByID(cid)
			require.True(t, ok, "user %s has channel %s not tracked", u.Nick, cid)
			_, inChan := ch.Users[u.ID]
			assert.True(t, inChan, "user %s missing from channel %s user-set", u.Nick, cid)
		}
	}
	for _, ch := range st.Channels {
		for uid := range ch.Users {
			u, ok := st.GetUser(uid)
			require.True(t, ok, "channel %s has user id %s not tracked", ch.Name, uid)
			_, inUser := u.Channels[ch.ID]
			assert.True(t, inUser, "channel %s user %s missing channel in its own set", ch.Name, u.Nick)
		}
	}
}

func mustChannelID(t *testing.T, st *NetworkState, name string) ChannelID {
	t.Helper()
	ch, ok := st.GetChannel(name)
	require.True(t, ok)
	return ch.ID
}
