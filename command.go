package irc

import (
	"regexp"
	"strings"
)

// Mode selects which verb grammar a line is parsed or built against.
// The wire encoding is identical across all three; only the codec's
// acceptance of the verb token differs.
type Mode int

const (
	// Server is used for lines received from the network.
	Server Mode = iota
	// Client is used for lines this library sends.
	Client
	// Bot widens the verb grammar to [A-Za-z0-9_]+ for user-defined
	// plugin commands; the wire treats these identically to Client.
	Bot
)

const (
	minLineLengthBudget = 512
	minClientTagBudget  = 4096
	minServerTagBudget  = 8191
)

// CommandOptions bounds the codec's output. Budgets may only be raised
// above the RFC minima, never lowered.
type CommandOptions struct {
	LineLengthBudget      int `toml:"line_length_budget" yaml:"line_length_budget" env:"LINE_LENGTH_BUDGET"`
	ClientTagLengthBudget int `toml:"client_tag_length_budget" yaml:"client_tag_length_budget" env:"CLIENT_TAG_LENGTH_BUDGET"`
	ServerTagLengthBudget int `toml:"server_tag_length_budget" yaml:"server_tag_length_budget" env:"SERVER_TAG_LENGTH_BUDGET"`
}

// DefaultCommandOptions returns the RFC-minimum budgets.
func DefaultCommandOptions() CommandOptions {
	return CommandOptions{
		LineLengthBudget:      minLineLengthBudget,
		ClientTagLengthBudget: minClientTagBudget,
		ServerTagLengthBudget: minServerTagBudget,
	}
}

func (o CommandOptions) validate() error {
	if o.LineLengthBudget < minLineLengthBudget {
		return invalidArgument("line_length_budget below RFC minimum of 512")
	}
	if o.ClientTagLengthBudget < minClientTagBudget {
		return invalidArgument("client_tag_length_budget below RFC minimum of 4096")
	}
	if o.ServerTagLengthBudget < minServerTagBudget {
		return invalidArgument("server_tag_length_budget below RFC minimum of 8191")
	}
	return nil
}

func (o CommandOptions) withDefaults() CommandOptions {
	if o.LineLengthBudget == 0 {
		o.LineLengthBudget = minLineLengthBudget
	}
	if o.ClientTagLengthBudget == 0 {
		o.ClientTagLengthBudget = minClientTagBudget
	}
	if o.ServerTagLengthBudget == 0 {
		o.ServerTagLengthBudget = minServerTagBudget
	}
	return o
}

// Command is a parsed or about-to-be-serialized IRC protocol line,
// without its trailing CR LF.
type Command struct {
	hasSource bool
	Source    string
	Verb      string
	Args      []string
	Tags      *Tags

	// trailingIndex is -1 when no argument is serialized as a
	// ":trailing" parameter, else the index within Args.
	trailingIndex int
}

var (
	letterVerbRe = regexp.MustCompile(`^[A-Za-z]+$`)
	numericRe    = regexp.MustCompile(`^[0-9]{3}$`)
	botVerbRe    = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	nickRe       = regexp.MustCompile(`^[^:$ ,*?!@][^ ,*?!@]*$`)
)

func validVerb(verb string, mode Mode) bool {
	if mode == Bot {
		return botVerbRe.MatchString(verb)
	}
	return letterVerbRe.MatchString(verb) || numericRe.MatchString(verb)
}

// HasSource reports whether the command carries a source/prefix.
func (c *Command) HasSource() bool { return c.hasSource }

// IsNumeric reports whether Verb is a 3-digit numeric reply code.
func (c *Command) IsNumeric() bool { return numericRe.MatchString(c.Verb) }

// Arg returns Args[i], or "" if out of range.
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// TrailingArgIndex reports which argument (if any) will serialize as the
// ":trailing" parameter. -1 if none.
func (c *Command) TrailingArgIndex() int { return c.trailingIndex }

// argNeedsTrailing reports whether arg can only legally appear as the
// final argument of a command.
func argNeedsTrailing(arg string) bool {
	return arg == "" || strings.HasPrefix(arg, ":") || strings.ContainsRune(arg, ' ')
}

func validSourceChars(s string) bool {
	return !strings.ContainsAny(s, " \r\n\x00")
}

func validArgChars(s string) bool {
	return !strings.ContainsAny(s, "\r\n\x00")
}

// NewCommand builds a Command from its structural parts, validating and
// normalising per the grammar, but does not yet check length budgets;
// call Build to additionally enforce CommandOptions budgets.
func NewCommand(mode Mode, source string, hasSource bool, verb string, args []string, tags *Tags) (*Command, error) {
	if hasSource && !validSourceChars(source) {
		return nil, invalidArgument("source contains illegal characters")
	}
	if !validVerb(verb, mode) {
		return nil, invalidArgument("malformed verb: " + verb)
	}
	normVerb := verb
	if letterVerbRe.MatchString(verb) {
		normVerb = strings.ToUpper(verb)
	}

	// Drop nil-equivalent (handled by caller via NewCommandArgs); here
	// args is already a concrete []string with no nils to drop.
	cleaned := make([]string, 0, len(args))
	for _, a := range args {
		if !validArgChars(a) {
			return nil, invalidArgument("argument contains illegal characters")
		}
		cleaned = append(cleaned, a)
	}

	trailingIndex := -1
	for i, a := range cleaned {
		if argNeedsTrailing(a) {
			if i != len(cleaned)-1 {
				return nil, invalidArgument("only the final argument may be empty, start with ':', or contain a space")
			}
			trailingIndex = i
		}
	}

	if tags == nil {
		tags = NewTags()
	}
	for _, k := range tags.Keys() {
		if !isValidTagKey(k) {
			return nil, invalidArgument("malformed tag key: " + k)
		}
	}

	return &Command{
		hasSource:     hasSource,
		Source:        source,
		Verb:          normVerb,
		Args:          cleaned,
		Tags:          tags,
		trailingIndex: trailingIndex,
	}, nil
}

// NewCommandArgs builds the argument slice from optional values,
// dropping nil entries, for callers composing arguments conditionally.
func NewCommandArgs(args ...*string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// Str returns a pointer to s, for use with NewCommandArgs.
func Str(s string) *string { return &s }

// Build validates NewCommand's result against opts' length budgets.
func Build(mode Mode, source string, hasSource bool, verb string, args []string, tags *Tags, opts CommandOptions) (*Command, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	cmd, err := NewCommand(mode, source, hasSource, verb, args, tags)
	if err != nil {
		return nil, err
	}
	if len(cmd.PrefixedCommandPart()) > opts.LineLengthBudget-2 {
		return nil, commandTooLong("serialized command part exceeds line length budget")
	}
	tagBudget := opts.ClientTagLengthBudget
	if mode == Server {
		tagBudget = opts.ServerTagLengthBudget
	}
	if len(cmd.TagPart()) > tagBudget {
		return nil, commandTooLong("serialized tag part exceeds tag length budget")
	}
	return cmd, nil
}

// PrefixedCommandPart renders ":source verb args… [:trailing]" (no tags,
// no CR LF).
func (c *Command) PrefixedCommandPart() string {
	var b strings.Builder
	if c.hasSource {
		b.WriteByte(':')
		b.WriteString(c.Source)
		b.WriteByte(' ')
	}
	b.WriteString(c.Verb)
	for i, a := range c.Args {
		b.WriteByte(' ')
		if i == c.trailingIndex {
			b.WriteByte(':')
		}
		b.WriteString(a)
	}
	return b.String()
}

// TagPart renders "@k1=v1;k2;…", or "" if there are no tags.
func (c *Command) TagPart() string { return serializeTagPart(c.Tags) }

// String renders the full wire line (no CR LF).
func (c *Command) String() string {
	tp := c.TagPart()
	if tp == "" {
		return c.PrefixedCommandPart()
	}
	return tp + " " + c.PrefixedCommandPart()
}

// Parse parses a single wire line (no trailing CR LF) in the given mode.
func Parse(line string, mode Mode) (*Command, error) {
	rest := line
	tags := NewTags()
	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		var tagStr string
		if idx < 0 {
			tagStr, rest = rest[1:], ""
		} else {
			tagStr, rest = rest[1:idx], rest[idx+1:]
		}
		var err error
		tags, err = parseTagPart(tagStr)
		if err != nil {
			return nil, err
		}
		rest = strings.TrimLeft(rest, " ")
	}

	hasSource := false
	source := ""
	if strings.HasPrefix(rest, ":") {
		idx := strings.IndexByte(rest, ' ')
		if idx < 0 {
			return nil, invalidMessage("source with no verb")
		}
		source = rest[1:idx]
		rest = strings.TrimLeft(rest[idx+1:], " ")
		hasSource = true
	}

	if rest == "" {
		return nil, invalidMessage("missing verb")
	}

	var verb string
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		verb = rest[:idx]
		rest = rest[idx+1:]
	} else {
		verb = rest
		rest = ""
	}
	if !validVerb(verb, mode) {
		return nil, invalidMessage("malformed verb: " + verb)
	}
	normVerb := verb
	if letterVerbRe.MatchString(verb) {
		normVerb = strings.ToUpper(verb)
	}

	args, trailingIndex := splitArgs(rest)

	return &Command{
		hasSource:     hasSource,
		Source:        source,
		Verb:          normVerb,
		Args:          args,
		Tags:          tags,
		trailingIndex: trailingIndex,
	}, nil
}

func splitArgs(rest string) (args []string, trailingIndex int) {
	trailingIndex = -1
	rest = strings.TrimLeft(rest, " ")
	for rest != "" {
		if rest[0] == ':' {
			args = append(args, rest[1:])
			trailingIndex = len(args) - 1
			break
		}
		idx := strings.IndexByte(rest, ' ')
		if idx < 0 {
			args = append(args, rest)
			break
		}
		args = append(args, rest[:idx])
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}
	return args, trailingIndex
}

// ParseHostmask splits a "nick!user@host" source into its parts. Any
// part not present is returned empty.
func ParseHostmask(hostmask string) (nick, user, host string) {
	nickParts := strings.SplitN(hostmask, "!", 2)
	if len(nickParts) < 2 {
		nick = hostmask
		return
	}
	nick = nickParts[0]

	userHostParts := strings.SplitN(nickParts[1], "@", 2)
	if len(userHostParts) < 2 {
		user = nickParts[1]
		return
	}
	user = userHostParts[0]
	host = userHostParts[1]
	return
}

// FormatHostmask joins nick/user/host into "nick!user@host".
func FormatHostmask(nick, user, host string) string {
	return nick + "!" + user + "@" + host
}

// ValidNick reports whether s is a syntactically legal nickname: it does
// not start with one of ":$ ,*?!@" and contains no embedded
// "[ ,*?!@]", and does not start with a channel type or status prefix.
func ValidNick(s string, chanTypes, statusPrefixes string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsRune(chanTypes, rune(s[0])) || strings.ContainsRune(statusPrefixes, rune(s[0])) {
		return false
	}
	return nickRe.MatchString(s)
}
