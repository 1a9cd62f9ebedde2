package irc

// CaseMapping selects the byte-folding rule used to compare nicks and
// channel names for equality.
type CaseMapping int

const (
	CaseMappingASCII CaseMapping = iota
	CaseMappingRFC1459
	CaseMappingRFC1459Strict
)

// ParseCaseMapping maps an ISUPPORT CASEMAPPING token value to a
// CaseMapping, degrading unknown values to ASCII.
func ParseCaseMapping(s string) CaseMapping {
	switch s {
	case "rfc1459":
		return CaseMappingRFC1459
	case "rfc1459-strict":
		return CaseMappingRFC1459Strict
	case "ascii", "":
		return CaseMappingASCII
	default:
		return CaseMappingASCII
	}
}

func (m CaseMapping) String() string {
	switch m {
	case CaseMappingRFC1459:
		return "rfc1459"
	case CaseMappingRFC1459Strict:
		return "rfc1459-strict"
	default:
		return "ascii"
	}
}

func (m CaseMapping) upperBound() byte {
	switch m {
	case CaseMappingRFC1459:
		return 0x7E
	case CaseMappingRFC1459Strict:
		return 0x7D
	default:
		return 0x7A
	}
}

// Casefold converts s to its case-folded form under m: each byte in
// [0x61, upperBound(m)] has 0x20 subtracted. RFC1459 variants fold
// '{', '|', '}' to '[', '\', ']'; RFC1459Strict excludes '~'/'^' from
// that extra range (upper bound 0x7D instead of 0x7E).
func Casefold(s string, m CaseMapping) string {
	upper := m.upperBound()
	b := []byte(s)
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x61 && c <= upper {
			out[i] = c - 0x20
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// IrcEquals reports whether a and b are equal under m's case mapping.
// This is an equivalence relation: reflexive, symmetric, transitive,
// since Casefold is idempotent and a pure function of its input.
func IrcEquals(a, b string, m CaseMapping) bool {
	return Casefold(a, m) == Casefold(b, m)
}
