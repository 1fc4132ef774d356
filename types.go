package authcore

import (
	"time"

	"github.com/careermate/authcore/account"
	"github.com/careermate/authcore/jwt"
)

type (
	Account       = account.Account
	AccountStatus = account.Status
	AccountStore  = account.Store
	Notifier      = account.Notifier

	// Claims is the decoded claim set of an access token.
	Claims = jwt.Claims
)

const (
	StatusActive   = account.StatusActive
	StatusInactive = account.StatusInactive
	StatusLocked   = account.StatusLocked
	StatusBanned   = account.StatusBanned
	StatusPending  = account.StatusPending
)

// TokenPair is returned by Authenticate and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresIn        int64     `json:"expires_in"` // seconds until the access token expires
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Introspection reports whether a token is currently usable. It carries no
// reason on purpose.
type Introspection struct {
	Active bool    `json:"active"`
	Claims *Claims `json:"claims,omitempty"`
}

// ResetAuthorization is the proof of a verified passcode, redeemed by
// ChangePasswordWithAuthorization.
type ResetAuthorization struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
