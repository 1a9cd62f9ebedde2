package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagEscapeRoundTrip(t *testing.T) {
	for _, v := range []string{"a;b c\r\nd\\e", ";", " ", "\r", "\n", "\\", "plain"} {
		got := unescapeTagValue(escapeTagValue(v))
		assert.Equal(t, v, got)
	}
}

func TestTagEmptyValueNormalisesAbsent(t *testing.T) {
	tags := NewTags()
	tags.Set("foo", "")
	_, ok := tags.Get("foo")
	assert.False(t, ok)
	assert.True(t, tags.Has("foo"))
	assert.Equal(t, "@foo", serializeTagPart(tags))
}

func TestTagKeyValidation(t *testing.T) {
	assert.True(t, isValidTagKey("time"))
	assert.True(t, isValidTagKey("+draft/reply"))
	assert.True(t, isValidTagKey("vendor.host/key"))
	assert.False(t, isValidTagKey(""))
	assert.False(t, isValidTagKey("+"))
	assert.False(t, isValidTagKey("bad key"))
}

func TestParseTagPart(t *testing.T) {
	tags, err := parseTagPart(`a=1;b;c=\:\s\r\n\\`)
	assert.NoError(t, err)
	v, ok := tags.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.True(t, tags.Has("b"))
	_, ok = tags.Get("b")
	assert.False(t, ok)
	v, ok = tags.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "; \r\n\\", v)
}
