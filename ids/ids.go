// Package ids mints token identifiers and numeric one-time codes.
package ids

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidDigits is returned when a code width is outside [4, 10].
var ErrInvalidDigits = errors.New("ids: code digits must be between 4 and 10")

// Generator produces identifiers for jti, refresh records and families, and
// numeric passcodes.
type Generator interface {
	NewID() (string, error)
	NewCode(digits int) (string, error)
}

// Random generates UUIDv7 identifiers and crypto/rand codes.
type Random struct{}

// NewID returns a time-ordered UUIDv7 string.
func (Random) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("ids: uuid: %w", err)
	}
	return id.String(), nil
}

// NewCode returns a uniformly random decimal code of the given width.
func (Random) NewCode(digits int) (string, error) {
	if err := checkDigits(digits); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("ids: code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// Sequence is a deterministic Generator for tests and tooling. IDs are
// "<prefix>-<n>"; codes are taken from the queue given to QueueCodes and fall
// back to a zero-padded counter.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	idN    uint64
	codeN  uint64
	codes  []string
}

// NewSequence creates a Sequence whose ids start with prefix.
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = "id"
	}
	return &Sequence{prefix: prefix}
}

// QueueCodes appends codes returned, in order, by subsequent NewCode calls.
func (s *Sequence) QueueCodes(codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, codes...)
}

// NewID returns the next identifier.
func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idN++
	return fmt.Sprintf("%s-%06d", s.prefix, s.idN), nil
}

// NewCode returns the next queued code, or a counter padded to digits.
func (s *Sequence) NewCode(digits int) (string, error) {
	if err := checkDigits(digits); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.codes) > 0 {
		code := s.codes[0]
		s.codes = s.codes[1:]
		if len(code) != digits {
			return "", fmt.Errorf("ids: queued code %q does not have %d digits", code, digits)
		}
		return code, nil
	}

	s.codeN++
	return fmt.Sprintf("%0*d", digits, s.codeN), nil
}

func checkDigits(digits int) error {
	if digits < 4 || digits > 10 {
		return ErrInvalidDigits
	}
	return nil
}

var (
	_ Generator = Random{}
	_ Generator = (*Sequence)(nil)
)
