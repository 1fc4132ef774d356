package account

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCanLogin(t *testing.T) {
	assert.True(t, StatusActive.CanLogin())
	for _, s := range []Status{StatusInactive, StatusLocked, StatusBanned, StatusPending, ""} {
		assert.False(t, s.CanLogin(), s)
	}
}

func TestScopeDedupesAndKeepsOrder(t *testing.T) {
	a := Account{Roles: []string{"CANDIDATE", " ", "RECRUITER", "CANDIDATE"}}
	assert.Equal(t, "CANDIDATE RECRUITER", a.Scope())
	assert.Equal(t, "", Account{}.Scope())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Account{ID: "u1", Email: "A@X.com", PasswordHash: "h1", Status: StatusActive, Roles: []string{"CANDIDATE"}})

	got, err := s.FindByEmail(ctx, " a@x.com ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)

	got.Roles[0] = "mutated"
	again, err := s.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"CANDIDATE"}, again.Roles)

	missing, err := s.FindByEmail(ctx, "b@x.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdatePasswordHash(ctx, "a@x.com", "h2"))
	again, _ = s.FindByEmail(ctx, "a@x.com")
	assert.Equal(t, "h2", again.PasswordHash)

	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, "b@x.com", "h"), ErrNotFound)
}

func TestLogNotifierMasksRecipient(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), "alice@example.com", "Reset", "code 123456"))

	out := buf.String()
	assert.Contains(t, out, "a***@example.com")
	assert.NotContains(t, out, "alice@")
	assert.Contains(t, out, "code 123456")
}
