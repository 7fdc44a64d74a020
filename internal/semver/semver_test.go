package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesExact(t *testing.T) {
	assert.True(t, Matches("1.2.3", "1.2.3"))
	assert.False(t, Matches("1.2.3", "1.2.4"))
	assert.False(t, Matches("1.2.0", "1.2"))
}

func TestMatchesRangeOperators(t *testing.T) {
	cases := []struct {
		version    string
		constraint string
		want       bool
	}{
		{"1.2.3", ">1.2.2", true},
		{"1.2.2", ">1.2.2", false},
		{"1.2.2", ">=1.2.2", true},
		{"1.2.1", ">=1.2.2", false},
		{"1.2.1", "<1.2.2", true},
		{"1.2.2", "<1.2.2", false},
		{"1.2.2", "<=1.2.2", true},
		{"2.0.0", "<=1.9.9", false},
		{"0.9.0", "<1.0.0", true},
		{"10.0.0", ">9.0.0", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Matches(tc.version, tc.constraint), "%s %s", tc.version, tc.constraint)
	}
}

// The strict operators treat a longer component sequence as greater when all
// compared positions are equal. "1.2.0" > "1.2" holds even though the padded
// values are equal; the non-strict operators use padded comparison instead.
func TestMatchesStrictLengthTieBreak(t *testing.T) {
	assert.True(t, Matches("1.2.0", ">1.2"))
	assert.False(t, Matches("1.2", ">1.2.0"))
	assert.True(t, Matches("1.2", "<1.2.0"))
	assert.True(t, Matches("1.2", ">=1.2.0"))
	assert.True(t, Matches("1.2.0", "<=1.2"))
}

func TestMatchesTilde(t *testing.T) {
	assert.True(t, Matches("1.2.5", "~1.2.0"))
	assert.True(t, Matches("1.2.0", "~1.2.0"))
	assert.False(t, Matches("1.3.0", "~1.2.0"))
	assert.False(t, Matches("1.1.9", "~1.2.0"))
	assert.False(t, Matches("2.2.0", "~1.2.0"))
}

func TestMatchesCaret(t *testing.T) {
	assert.True(t, Matches("1.2.3", "^1.2.0"))
	assert.True(t, Matches("1.9.0", "^1.2.0"))
	assert.False(t, Matches("2.0.0", "^1.2.0"))
	assert.False(t, Matches("1.1.0", "^1.2.0"))
}

func TestMatchesUnrecognizedConstraint(t *testing.T) {
	assert.False(t, Matches("1.2.3", ""))
	assert.False(t, Matches("1.2.3", "=>1.2.0"))
	assert.False(t, Matches("1.2.3", "latest"))
	assert.False(t, Matches("1.2.3", "1.x"))
}

func TestMatchesMalformedVersion(t *testing.T) {
	// Unparsable components compare as zero and never panic.
	assert.True(t, Matches("1.abc.3", ">=1.0.0"))
	assert.False(t, Matches("abc", ">0.0.1"))
	assert.True(t, Matches("1.2.junk", "~1.2.0"))
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("1.2.3"))
	assert.True(t, ValidFormat("0.0.0"))
	assert.False(t, ValidFormat("1.2"))
	assert.False(t, ValidFormat("1.2.3.4"))
	assert.False(t, ValidFormat("v1.2.3"))
	assert.False(t, ValidFormat("1.2.x"))
}
