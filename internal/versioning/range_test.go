package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRangeBareVersionIsInclusiveMinimum(t *testing.T) {
	r, err := ParseRange("2.0.0")
	require.NoError(t, err)

	minVersion, ok := r.MinVersion()
	require.True(t, ok)
	assert.Equal(t, "2.0.0", minVersion.Normalized())
	assert.True(t, r.IsMinInclusive())
	assert.True(t, r.Satisfies(MustParse("2.0.0")))
	assert.True(t, r.Satisfies(MustParse("9.0.0")))
	assert.False(t, r.Satisfies(MustParse("1.9.9")))
}

func TestParseRangeIntervals(t *testing.T) {
	cases := []struct {
		input string
		in    []string
		out   []string
	}{
		{"[1.0,2.0)", []string{"1.0.0", "1.9.9"}, []string{"0.9.0", "2.0.0"}},
		{"(1.0,2.0]", []string{"1.0.1", "2.0.0"}, []string{"1.0.0", "2.0.1"}},
		{"(,1.5]", []string{"0.1.0", "1.5.0"}, []string{"1.5.1"}},
		{"[1.2.3]", []string{"1.2.3"}, []string{"1.2.4", "1.2.2"}},
		{"*", []string{"0.0.1", "99.0.0"}, nil},
		{"", []string{"1.0.0"}, nil},
	}
	for _, tc := range cases {
		r, err := ParseRange(tc.input)
		require.NoError(t, err, tc.input)
		for _, v := range tc.in {
			assert.True(t, r.Satisfies(MustParse(v)), "%s should satisfy %s", v, tc.input)
		}
		for _, v := range tc.out {
			assert.False(t, r.Satisfies(MustParse(v)), "%s should not satisfy %s", v, tc.input)
		}
	}
}

func TestParseRangeRejectsInvalid(t *testing.T) {
	for _, input := range []string{"[1.0", "(1.0)", "[2.0,1.0]", "[,]", "[1.0,2.0,3.0]", "(1.0,1.0)"} {
		_, err := ParseRange(input)
		require.Error(t, err, input)
	}
}

func TestExclusiveMinimumHasNoInclusiveBound(t *testing.T) {
	r, err := ParseRange("(1.0,)")
	require.NoError(t, err)
	assert.False(t, r.IsMinInclusive())

	best, ok := r.FindBestMatch([]Version{MustParse("1.0.0"), MustParse("1.2.0"), MustParse("1.1.0")})
	require.True(t, ok)
	assert.Equal(t, "1.1.0", best.Normalized())
}

func TestFindBestMatchNoCandidate(t *testing.T) {
	r, err := ParseRange("[3.0,4.0)")
	require.NoError(t, err)
	_, ok := r.FindBestMatch([]Version{MustParse("1.0.0"), MustParse("4.0.0")})
	assert.False(t, ok)
}

func TestRangeString(t *testing.T) {
	cases := map[string]string{
		"1.0":       "1.0.0",
		"[1.0,2.0)": "[1.0.0, 2.0.0)",
		"[1.0]":     "[1.0.0]",
		"(,2.0]":    "(, 2.0.0]",
		"":          "*",
	}
	for input, want := range cases {
		r, err := ParseRange(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, r.String(), input)
	}
}
