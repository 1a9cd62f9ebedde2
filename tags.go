package irc

import "strings"

// Tags is an ordered-insertion mapping from IRCv3 message-tag key to an
// optional, already-unescaped value. A present-but-empty tag value is
// represented as value="" with ok=true only at the API boundary before
// normalisation; once stored via set, empty values normalise to absent.
type Tags struct {
	keys   []string
	values map[string]string
	has    map[string]bool
}

// NewTags returns an empty tag set.
func NewTags() *Tags {
	return &Tags{values: make(map[string]string), has: make(map[string]bool)}
}

// Set stores a tag. An empty value normalises to "value absent", matching
// the wire rule that `key=` and bare `key` are equivalent.
func (t *Tags) Set(key, value string) {
	if t.values == nil {
		t.values = make(map[string]string)
		t.has = make(map[string]bool)
	}
	if _, seen := t.has[key]; !seen {
		t.keys = append(t.keys, key)
	}
	if value == "" {
		t.has[key] = false
		t.values[key] = ""
		return
	}
	t.has[key] = true
	t.values[key] = value
}

// SetPresent stores a valueless tag (e.g. +draft/multiline-concat).
func (t *Tags) SetPresent(key string) { t.Set(key, "") }

// Get returns the unescaped value for key and whether a value is present.
// ok is false both when the key is absent entirely and when the key is
// present without a value.
func (t *Tags) Get(key string) (value string, ok bool) {
	if t == nil || t.values == nil {
		return "", false
	}
	if !t.has[key] {
		return "", false
	}
	return t.values[key], true
}

// Has reports whether key appears in the tag set at all (with or without
// a value).
func (t *Tags) Has(key string) bool {
	if t == nil {
		return false
	}
	_, seen := t.values[key]
	return seen
}

// Keys returns the tag keys in insertion order.
func (t *Tags) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Len returns the number of distinct tag keys.
func (t *Tags) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Clone returns a deep copy, preserving key order.
func (t *Tags) Clone() *Tags {
	if t == nil {
		return NewTags()
	}
	out := NewTags()
	out.keys = append([]string(nil), t.keys...)
	for k, v := range t.values {
		out.values[k] = v
	}
	for k, v := range t.has {
		out.has[k] = v
	}
	return out
}

// escapeTagValue applies the IRCv3 tag-value escape table:
// ';' -> \:, ' ' -> \s, CR -> \r, LF -> \n, '\' -> \\.
func escapeTagValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		switch r {
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeTagValue reverses escapeTagValue. An unrecognised escape
// sequence `\x` decodes to the literal char `x`; a trailing lone
// backslash is dropped.
func unescapeTagValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	runes := []rune(v)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 >= len(runes) {
			// trailing lone backslash: dropped
			break
		}
		i++
		switch runes[i] {
		case ':':
			b.WriteRune(';')
		case 's':
			b.WriteRune(' ')
		case 'r':
			b.WriteRune('\r')
		case 'n':
			b.WriteRune('\n')
		case '\\':
			b.WriteRune('\\')
		default:
			b.WriteRune(runes[i])
		}
	}
	return b.String()
}

// serializeTagPart builds the "@k1=v1;k2;..." fragment, or "" if there
// are no tags. Key order follows insertion order; tests must only assert
// key-set equality.
func serializeTagPart(t *Tags) string {
	if t == nil || len(t.keys) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('@')
	for i, k := range t.keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		if t.has[k] {
			b.WriteByte('=')
			b.WriteString(escapeTagValue(t.values[k]))
		}
	}
	return b.String()
}

// parseTagPart parses the content after '@' and before the next space
// (the caller has already stripped the leading '@').
func parseTagPart(s string) (*Tags, error) {
	tags := NewTags()
	if s == "" {
		return tags, nil
	}
	for _, pair := range strings.Split(s, ";") {
		if pair == "" {
			continue
		}
		key := pair
		val := ""
		hasVal := false
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key = pair[:idx]
			val = pair[idx+1:]
			hasVal = val != ""
		}
		if !isValidTagKey(key) {
			return nil, invalidMessage("malformed tag key: " + key)
		}
		if hasVal {
			tags.Set(key, unescapeTagValue(val))
		} else {
			tags.SetPresent(key)
		}
	}
	return tags, nil
}

// isValidTagKey validates against: optional '+', optional
// "vendor-host/" (letters, digits, '-', '.'), then a bare key (letters,
// digits, '-').
func isValidTagKey(key string) bool {
	if key == "" {
		return false
	}
	if key[0] == '+' {
		key = key[1:]
	}
	if key == "" {
		return false
	}
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		vendor := key[:idx]
		key = key[idx+1:]
		if vendor == "" || !isVendorHost(vendor) {
			return false
		}
	}
	if key == "" {
		return false
	}
	return isBareKey(key)
}

func isVendorHost(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

func isBareKey(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
