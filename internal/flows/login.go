package flows

import (
	"context"
	"errors"

	"github.com/careermate/authcore/account"
)

// LoginFailureKind classifies Authenticate failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureLookup
	LoginFailureNotFound
	LoginFailureBadPassword
	LoginFailureHash
	LoginFailureInactive
	LoginFailureIssue
	LoginFailureStore
)

// LoginResult carries the issued pair or the failure.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error
	Account *account.Account
	Issued  Issued

	// Upgraded is set when a legacy hash was rewritten. UpgradeErr is a
	// failed rewrite; it does not fail the login.
	Upgraded   bool
	UpgradeErr error
}

// RunLogin checks credentials and starts a new refresh family. The password
// is verified before the account status so a wrong password never learns
// whether the account is active.
func RunLogin(ctx context.Context, email, password string, d LoginDeps) LoginResult {
	acct, err := d.Accounts.FindByEmail(ctx, account.NormalizeEmail(email))
	if err != nil {
		return LoginResult{Failure: LoginFailureLookup, Err: err}
	}
	if acct == nil {
		if d.DummyHash != "" {
			_, _ = d.Passwords.Verify(password, d.DummyHash)
		}
		return LoginResult{Failure: LoginFailureNotFound}
	}

	ok, err := d.Passwords.Verify(password, acct.PasswordHash)
	if err != nil {
		return LoginResult{Failure: LoginFailureHash, Err: err, Account: acct}
	}
	if !ok {
		return LoginResult{Failure: LoginFailureBadPassword, Account: acct}
	}
	if !acct.Status.CanLogin() {
		return LoginResult{Failure: LoginFailureInactive, Account: acct}
	}

	issued, err := startFamily(ctx, d.Tokens, SubjectOf(acct), acct.Scope())
	if err != nil {
		kind := LoginFailureIssue
		var se storeError
		if errors.As(err, &se) {
			kind = LoginFailureStore
			err = se.err
		}
		return LoginResult{Failure: kind, Err: err, Account: acct}
	}

	res := LoginResult{Account: acct, Issued: issued}
	if d.UpgradeOnLogin {
		res.Upgraded, res.UpgradeErr = upgradeHash(ctx, d, acct, password)
	}
	return res
}

func upgradeHash(ctx context.Context, d LoginDeps, acct *account.Account, password string) (bool, error) {
	needs, err := d.Passwords.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !needs {
		return false, err
	}
	hash, err := d.Passwords.Hash(password)
	if err != nil {
		return false, err
	}
	if err := d.Accounts.UpdatePasswordHash(ctx, acct.Email, hash); err != nil {
		return false, err
	}
	return true, nil
}
