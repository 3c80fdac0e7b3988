package emotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabularyIsClosed(t *testing.T) {
	all := All()
	require.Len(t, all, 27)

	seen := make(map[Label]bool, len(all))
	for _, label := range all {
		assert.True(t, Valid(label), "label %q should be valid", label)
		assert.False(t, seen[label], "duplicate label %q", label)
		seen[label] = true
	}

	assert.False(t, Valid(Unset))
	assert.False(t, Valid("banana"))
	assert.False(t, Valid("Joy"), "membership is case sensitive, use Normalize first")
}

func TestNormalize(t *testing.T) {
	cases := map[string]Label{
		"joy":        Joy,
		"  Sadness ": Sadness,
		"GRIEF":      Grief,
		"banana":     Unset,
		"":           Unset,
		"happy":      Unset,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "Normalize(%q)", raw)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	all := All()
	all[0] = "banana"
	assert.Equal(t, Anger, All()[0])
	assert.Equal(t, "anger", Names()[0])
}
