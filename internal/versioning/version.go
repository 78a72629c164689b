// Package versioning implements NuGet-flavoured semantic versions and
// interval version ranges.
package versioning

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/blang/semver"
)

// Version is a semantic version with an optional fourth "revision" part.
// Prerelease labels compare case-insensitively; build metadata is kept for
// display but ignored by Compare.
type Version struct {
	sv         semver.Version
	revision   uint64
	prerelease string
	metadata   string
	original   string
}

// Parse accepts major[.minor[.patch[.revision]]][-prerelease][+metadata].
func Parse(value string) (Version, error) {
	raw := strings.TrimSpace(value)
	text := strings.TrimPrefix(strings.TrimPrefix(raw, "v"), "V")
	if text == "" {
		return Version{}, invalidVersion(value, nil)
	}

	var metadata, prerelease string
	if idx := strings.IndexByte(text, '+'); idx >= 0 {
		metadata = text[idx+1:]
		text = text[:idx]
		if metadata == "" {
			return Version{}, invalidVersion(value, nil)
		}
	}
	if idx := strings.IndexByte(text, '-'); idx >= 0 {
		prerelease = text[idx+1:]
		text = text[:idx]
		if prerelease == "" {
			return Version{}, invalidVersion(value, nil)
		}
	}

	parts := strings.Split(text, ".")
	if len(parts) > 4 {
		return Version{}, invalidVersion(value, nil)
	}
	numbers := make([]uint64, 4)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Version{}, invalidVersion(value, err)
		}
		numbers[i] = n
	}

	canonical := fmt.Sprintf("%d.%d.%d", numbers[0], numbers[1], numbers[2])
	if prerelease != "" {
		canonical += "-" + strings.ToLower(prerelease)
	}
	if metadata != "" {
		canonical += "+" + metadata
	}
	sv, err := semver.Parse(canonical)
	if err != nil {
		return Version{}, invalidVersion(value, err)
	}
	return Version{
		sv:         sv,
		revision:   numbers[3],
		prerelease: prerelease,
		metadata:   metadata,
		original:   raw,
	}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(value string) Version {
	v, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return v
}

func invalidVersion(value string, cause error) error {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid version %q", value))
	if cause != nil {
		builder = builder.WithCause(cause)
	}
	return builder
}

func (v Version) Major() uint64      { return v.sv.Major }
func (v Version) Minor() uint64      { return v.sv.Minor }
func (v Version) Patch() uint64      { return v.sv.Patch }
func (v Version) Revision() uint64   { return v.revision }
func (v Version) Prerelease() string { return v.prerelease }
func (v Version) Metadata() string   { return v.metadata }
func (v Version) Original() string   { return v.original }

func (v Version) IsPrerelease() bool { return v.prerelease != "" }

// IsZero reports whether v is the zero value rather than a parsed version.
func (v Version) IsZero() bool { return v.original == "" && Compare(v, Version{}) == 0 }

// Normalized renders major.minor.patch[.revision][-prerelease]; the revision
// is only shown when it is non-zero.
func (v Version) Normalized() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.sv.Major, v.sv.Minor, v.sv.Patch)
	if v.revision > 0 {
		fmt.Fprintf(&b, ".%d", v.revision)
	}
	if v.prerelease != "" {
		b.WriteString("-")
		b.WriteString(v.prerelease)
	}
	return b.String()
}

// Full is Normalized plus build metadata.
func (v Version) Full() string {
	if v.metadata == "" {
		return v.Normalized()
	}
	return v.Normalized() + "+" + v.metadata
}

func (v Version) String() string { return v.Full() }

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.Full()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Compare orders by major, minor, patch, revision, then prerelease. Build
// metadata does not participate.
func Compare(a, b Version) int {
	if c := cmpUint(a.sv.Major, b.sv.Major); c != 0 {
		return c
	}
	if c := cmpUint(a.sv.Minor, b.sv.Minor); c != 0 {
		return c
	}
	if c := cmpUint(a.sv.Patch, b.sv.Patch); c != 0 {
		return c
	}
	if c := cmpUint(a.revision, b.revision); c != 0 {
		return c
	}
	return a.sv.Compare(b.sv)
}

// CompareWithMetadata is Compare with a case-insensitive tie-break on build
// metadata.
func CompareWithMetadata(a, b Version) int {
	if c := Compare(a, b); c != 0 {
		return c
	}
	return strings.Compare(strings.ToLower(a.metadata), strings.ToLower(b.metadata))
}

func Equal(a, b Version) bool { return Compare(a, b) == 0 }

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Sort orders versions ascending in place.
func Sort(versions []Version) {
	slices.SortStableFunc(versions, Compare)
}

// SortDescending orders versions newest first, using metadata as a
// tie-break so the output is stable across runs.
func SortDescending(versions []Version) {
	slices.SortStableFunc(versions, func(a, b Version) int {
		return CompareWithMetadata(b, a)
	})
}

// Distinct returns versions with duplicates (under Compare) removed,
// preserving first occurrence order.
func Distinct(versions []Version) []Version {
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		if !slices.ContainsFunc(out, func(existing Version) bool { return Equal(existing, v) }) {
			out = append(out, v)
		}
	}
	return out
}
