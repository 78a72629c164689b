package versioning

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Range is an interval of versions in NuGet notation, e.g. "[1.0, 2.0)".
// A bare version such as "1.0" means ">= 1.0".
type Range struct {
	min          *Version
	max          *Version
	minInclusive bool
	maxInclusive bool
	original     string
}

// AnyRange matches every version.
func AnyRange() Range { return Range{original: ""} }

// AtLeast returns the range ">= v".
func AtLeast(v Version) Range {
	return Range{min: &v, minInclusive: true, original: v.Full()}
}

func ParseRange(value string) (Range, error) {
	text := strings.TrimSpace(value)
	if text == "" || text == "*" {
		return Range{original: text}, nil
	}

	first, last := text[0], text[len(text)-1]
	if first != '[' && first != '(' {
		v, err := Parse(text)
		if err != nil {
			return Range{}, invalidRange(value, err)
		}
		return Range{min: &v, minInclusive: true, original: text}, nil
	}
	if last != ']' && last != ')' {
		return Range{}, invalidRange(value, nil)
	}

	r := Range{
		minInclusive: first == '[',
		maxInclusive: last == ']',
		original:     text,
	}
	inner := text[1 : len(text)-1]
	bounds := strings.Split(inner, ",")
	switch len(bounds) {
	case 1:
		// "[1.0]" pins an exact version.
		if !r.minInclusive || !r.maxInclusive {
			return Range{}, invalidRange(value, nil)
		}
		v, err := Parse(bounds[0])
		if err != nil {
			return Range{}, invalidRange(value, err)
		}
		r.min, r.max = &v, &v
		return r, nil
	case 2:
	default:
		return Range{}, invalidRange(value, nil)
	}

	if lower := strings.TrimSpace(bounds[0]); lower != "" {
		v, err := Parse(lower)
		if err != nil {
			return Range{}, invalidRange(value, err)
		}
		r.min = &v
	}
	if upper := strings.TrimSpace(bounds[1]); upper != "" {
		v, err := Parse(upper)
		if err != nil {
			return Range{}, invalidRange(value, err)
		}
		r.max = &v
	}
	if r.min == nil && r.max == nil {
		return Range{}, invalidRange(value, nil)
	}
	if r.min != nil && r.max != nil {
		c := Compare(*r.min, *r.max)
		if c > 0 || (c == 0 && !(r.minInclusive && r.maxInclusive)) {
			return Range{}, invalidRange(value, nil)
		}
	}
	return r, nil
}

func invalidRange(value string, cause error) error {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid version range %q", value))
	if cause != nil {
		builder = builder.WithCause(cause)
	}
	return builder
}

// MinVersion returns the lower bound, if any.
func (r Range) MinVersion() (Version, bool) {
	if r.min == nil {
		return Version{}, false
	}
	return *r.min, true
}

func (r Range) MaxVersion() (Version, bool) {
	if r.max == nil {
		return Version{}, false
	}
	return *r.max, true
}

func (r Range) IsMinInclusive() bool { return r.min != nil && r.minInclusive }
func (r Range) IsMaxInclusive() bool { return r.max != nil && r.maxInclusive }

func (r Range) Satisfies(v Version) bool {
	if r.min != nil {
		c := Compare(v, *r.min)
		if c < 0 || (c == 0 && !r.minInclusive) {
			return false
		}
	}
	if r.max != nil {
		c := Compare(v, *r.max)
		if c > 0 || (c == 0 && !r.maxInclusive) {
			return false
		}
	}
	return true
}

// FindBestMatch returns the lowest version satisfying the range.
func (r Range) FindBestMatch(versions []Version) (Version, bool) {
	var best Version
	found := false
	for _, v := range versions {
		if !r.Satisfies(v) {
			continue
		}
		if !found || Compare(v, best) < 0 {
			best = v
			found = true
		}
	}
	return best, found
}

// String renders the range in normalized interval notation.
func (r Range) String() string {
	if r.min == nil && r.max == nil {
		return "*"
	}
	if r.min != nil && r.max == nil && r.minInclusive {
		return r.min.Normalized()
	}
	if r.min != nil && r.max != nil && Compare(*r.min, *r.max) == 0 {
		return "[" + r.min.Normalized() + "]"
	}
	var b strings.Builder
	if r.minInclusive && r.min != nil {
		b.WriteString("[")
	} else {
		b.WriteString("(")
	}
	if r.min != nil {
		b.WriteString(r.min.Normalized())
	}
	b.WriteString(", ")
	if r.max != nil {
		b.WriteString(r.max.Normalized())
	}
	if r.maxInclusive && r.max != nil {
		b.WriteString("]")
	} else {
		b.WriteString(")")
	}
	return b.String()
}
