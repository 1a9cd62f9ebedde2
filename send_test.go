package irc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrepareMessage_MultilineBatching drives draft/multiline negotiated
// with max-bytes=512,max-lines=3; five short lines to #c split into a
// 3-line batch then a 2-line batch.
func TestPrepareMessage_MultilineBatching(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "nick", Ident: "u"})
	n.hostmask = "nick!u@host"
	val := "max-bytes=512,max-lines=3"
	n.state = n.state.withSupportedCap("draft/multiline", &val)
	n.state = n.state.withEnabledCap("draft/multiline", true)

	lines := "one\ntwo\nthree\nfour\nfive"
	cmds, err := n.PrepareMessage(Message, "#c", lines, NewTags(), "")
	require.NoError(t, err)

	var verbs []string
	for _, c := range cmds {
		verbs = append(verbs, c.Verb)
	}

	batchOpens, batchCloses, privmsgs := 0, 0, 0
	concatTagged := 0
	for _, c := range cmds {
		switch c.Verb {
		case "BATCH":
			if len(c.Args) > 0 && len(c.Args[0]) > 0 && c.Args[0][0] == '+' {
				batchOpens++
				assert.Equal(t, "draft/multiline", c.Arg(1))
			} else {
				batchCloses++
			}
		case "PRIVMSG":
			privmsgs++
			if c.Tags.Has("draft/multiline-concat") {
				concatTagged++
			}
			assert.True(t, c.Tags.Has("batch"))
		}
	}

	assert.Equal(t, 2, batchOpens)
	assert.Equal(t, 2, batchCloses)
	assert.Equal(t, 5, privmsgs)
	assert.Equal(t, 3, concatTagged) // lines 2,3 of batch1 + line 2 of batch2
}

func TestPrepareMessage_NoMultiline_OnePerLine(t *testing.T) {
	n := newTestNetwork(Options{PrimaryNick: "nick", Ident: "u"})
	n.hostmask = "nick!u@host"

	cmds, err := n.PrepareMessage(Message, "#c", "hello\nworld", nil, "")
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "PRIVMSG", cmds[0].Verb)
	assert.Equal(t, "hello", cmds[0].Arg(1))
	assert.Equal(t, "world", cmds[1].Arg(1))
}

func TestSplitGraphemeAware_RespectsMaxlenAndBreaksAtSpace(t *testing.T) {
	pieces := splitGraphemeAware("hello world this is a test", 11)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 11)
		assert.False(t, strings.HasPrefix(p, " "))
	}
}

func TestSplitGraphemeAware_HardBreakWithoutSpace(t *testing.T) {
	pieces := splitGraphemeAware("aaaaaaaaaaaaaaaaaaaa", 5)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 5)
	}
	assert.Greater(t, len(pieces), 1)
}
