package subject_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seedling-social/likewire/pkg/subject"
)

// TestValid_CanonicalUUID verifies that only the canonical 8-4-4-4-12
// textual form passes.
// Invariant: anything failing validation must never reach the gateway.
func TestValid_CanonicalUUID(t *testing.T) {
	assert.True(t, subject.Valid("11111111-1111-1111-1111-111111111111"))
	assert.True(t, subject.Valid("a3bb189e-8bf9-3888-9912-ace4e6543002"))
	assert.True(t, subject.Valid("A3BB189E-8BF9-3888-9912-ACE4E6543002"))
}

func TestValid_RejectsNonCanonicalShapes(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"not a uuid":    "not-a-uuid",
		"undashed":      "11111111111111111111111111111111",
		"braced":        "{11111111-1111-1111-1111-111111111111}",
		"urn prefix":    "urn:uuid:11111111-1111-1111-1111-111111111111",
		"bad hex":       "zzzzzzzz-1111-1111-1111-111111111111",
		"short group":   "1111111-1111-1111-1111-1111111111111",
		"trailing junk": "11111111-1111-1111-1111-111111111111x",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, subject.Valid(value), "value %q", value)
		})
	}
}

func TestExplainInvalid_Diagnostics(t *testing.T) {
	assert.Equal(t, "subject id is empty", subject.ExplainInvalid(""))
	assert.Contains(t, subject.ExplainInvalid("abc"), "length 3")
	assert.Contains(t, subject.ExplainInvalid("111111111111111111111111111111111111"), "8-4-4-4-12")
	assert.Equal(t, "subject id is valid", subject.ExplainInvalid("11111111-1111-1111-1111-111111111111"))
}
