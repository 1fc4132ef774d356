package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomNewIDIsUUIDv7(t *testing.T) {
	raw, err := Random{}.NewID()
	require.NoError(t, err)

	id, err := uuid.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestRandomNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := Random{}.NewID()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestRandomNewCodeDigits(t *testing.T) {
	for _, digits := range []int{4, 6, 10} {
		code, err := Random{}.NewCode(digits)
		require.NoError(t, err)
		assert.Len(t, code, digits)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9', "non-digit in %q", code)
		}
	}

	_, err := Random{}.NewCode(3)
	assert.ErrorIs(t, err, ErrInvalidDigits)
	_, err = Random{}.NewCode(11)
	assert.ErrorIs(t, err, ErrInvalidDigits)
}

func TestSequenceDeterministic(t *testing.T) {
	s := NewSequence("rt")

	a, _ := s.NewID()
	b, _ := s.NewID()
	assert.Equal(t, "rt-000001", a)
	assert.Equal(t, "rt-000002", b)

	s.QueueCodes("123456")
	code, err := s.NewCode(6)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	code, err = s.NewCode(6)
	require.NoError(t, err)
	assert.Equal(t, "000001", code)
}

func TestSequenceQueuedCodeWidthMismatch(t *testing.T) {
	s := NewSequence("")
	s.QueueCodes("1234")

	_, err := s.NewCode(6)
	assert.Error(t, err)
}
