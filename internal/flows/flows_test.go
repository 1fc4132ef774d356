package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/careermate/authcore/account"
	"github.com/careermate/authcore/clock"
	"github.com/careermate/authcore/ids"
	"github.com/careermate/authcore/internal/limiters"
	"github.com/careermate/authcore/jwt"
	"github.com/careermate/authcore/keys"
	"github.com/careermate/authcore/otp"
	"github.com/careermate/authcore/password"
	"github.com/careermate/authcore/refresh"
	"github.com/careermate/authcore/revocation"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	deps     Deps
	clock    *clock.Fake
	seq      *ids.Sequence
	accounts *account.MemoryStore
	hasher   *password.Hasher
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key, err := keys.HS256("k1", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("HS256: %v", err)
	}
	provider, err := keys.NewStatic(key)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	codec, err := jwt.NewManager(provider, jwt.Config{Issuer: "authcore"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	hasher, err := password.NewHasher(password.Config{
		Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MinLength: 6,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	good, err := hasher.Hash("Good1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	c := clock.NewFake(t0)
	seq := ids.NewSequence("id")
	accounts := account.NewMemoryStore(
		account.Account{ID: "u1", Email: "a@x.com", PasswordHash: good, Status: account.StatusActive, Roles: []string{"CANDIDATE"}},
		account.Account{ID: "u2", Email: "locked@x.com", PasswordHash: good, Status: account.StatusLocked},
	)

	tokens := TokenDeps{
		Now:        c.Now,
		NewID:      seq.NewID,
		Codec:      codec,
		Refresh:    refresh.NewRedisStore(client, "t:", time.Hour),
		Revocation: revocation.NewRedisStore(client, "t:", c),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	return &harness{
		deps: Deps{
			Tokens: tokens,
			Login:  LoginDeps{Tokens: tokens, Accounts: accounts, Passwords: hasher, UpgradeOnLogin: true},
			Reset: ResetDeps{
				Tokens:    tokens,
				Accounts:  accounts,
				Passwords: hasher,
				OTPs:      otp.NewRedisStore(client, "t:", time.Minute),
				Limiter: limiters.NewPasswordResetLimiter(client, limiters.PasswordResetConfig{
					KeyPrefix: "t:", RequestsPerWindow: 2, Window: 15 * time.Minute,
				}),
				RateLimited:            func(err error) bool { return errors.Is(err, limiters.ErrResetRateLimited) },
				NewCode:                seq.NewCode,
				OTPDigits:              6,
				OTPTTL:                 70 * time.Second,
				AuthorizationTTL:       5 * time.Minute,
				MaxAttempts:            3,
				RevokeSessionsOnChange: true,
			},
		},
		clock:    c,
		seq:      seq,
		accounts: accounts,
		hasher:   hasher,
		mr:       mr,
	}
}

func TestLoginChecksPasswordBeforeStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if res := RunLogin(ctx, "locked@x.com", "wrong!!", h.deps.Login); res.Failure != LoginFailureBadPassword {
		t.Fatalf("wrong password on locked account: failure = %v, want BadPassword", res.Failure)
	}
	if res := RunLogin(ctx, "locked@x.com", "Good1!", h.deps.Login); res.Failure != LoginFailureInactive {
		t.Fatalf("right password on locked account: failure = %v, want Inactive", res.Failure)
	}
	if res := RunLogin(ctx, "nobody@x.com", "Good1!", h.deps.Login); res.Failure != LoginFailureNotFound {
		t.Fatalf("unknown account: failure = %v, want NotFound", res.Failure)
	}
}

func TestLoginStartsFamily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := RunLogin(ctx, " A@X.com ", "Good1!", h.deps.Login)
	if res.Failure != LoginFailureNone {
		t.Fatalf("login failed: %v %v", res.Failure, res.Err)
	}
	if res.Issued.Access.Subject != "u1" || res.Issued.Access.Scope != "CANDIDATE" {
		t.Fatalf("claims = %+v", res.Issued.Access)
	}

	id, _, err := refresh.ParseToken(res.Issued.RefreshToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if id != res.Issued.RefreshID {
		t.Fatalf("token id %q, issued id %q", id, res.Issued.RefreshID)
	}
	key := "t:rt:" + id
	if state := h.mr.HGet(key, "state"); state != string(refresh.StateActive) {
		t.Fatalf("record state = %q", state)
	}
	if fid := h.mr.HGet(key, "fid"); fid != res.Issued.Access.FamilyID {
		t.Fatalf("record family = %q, claims family = %q", fid, res.Issued.Access.FamilyID)
	}
	if !res.Issued.RefreshExpiresAt.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("refresh expiry = %v", res.Issued.RefreshExpiresAt)
	}
}

func TestLoginUpgradesBcrypt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("Legacy1!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h.accounts.Put(account.Account{ID: "u3", Email: "old@x.com", PasswordHash: string(legacy), Status: account.StatusActive})

	res := RunLogin(ctx, "old@x.com", "Legacy1!", h.deps.Login)
	if res.Failure != LoginFailureNone || !res.Upgraded || res.UpgradeErr != nil {
		t.Fatalf("login = %+v", res)
	}
	acct, _ := h.accounts.FindByEmail(ctx, "old@x.com")
	if ok, err := h.hasher.Verify("Legacy1!", acct.PasswordHash); !ok || err != nil {
		t.Fatalf("upgraded hash does not verify: %v", err)
	}
	if needs, _ := h.hasher.NeedsUpgrade(acct.PasswordHash); needs {
		t.Fatal("hash still needs upgrade")
	}
}

func TestRefreshMismatchLeavesFamilyAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	login := RunLogin(ctx, "a@x.com", "Good1!", h.deps.Login)
	id, _, _ := refresh.ParseToken(login.Issued.RefreshToken)

	var guess refresh.Secret
	forged := refresh.EncodeToken(id, guess)
	if res := RunRefresh(ctx, forged, h.deps.Tokens); res.Failure != RefreshFailureMismatch {
		t.Fatalf("forged secret: failure = %v", res.Failure)
	}

	if res := RunRefresh(ctx, login.Issued.RefreshToken, h.deps.Tokens); res.Failure != RefreshFailureNone {
		t.Fatalf("genuine refresh after forged attempt: %v %v", res.Failure, res.Err)
	}
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	login := RunLogin(ctx, "a@x.com", "Good1!", h.deps.Login)
	first := RunRefresh(ctx, login.Issued.RefreshToken, h.deps.Tokens)
	if first.Failure != RefreshFailureNone {
		t.Fatalf("first refresh: %v %v", first.Failure, first.Err)
	}

	reuse := RunRefresh(ctx, login.Issued.RefreshToken, h.deps.Tokens)
	if reuse.Failure != RefreshFailureReuse {
		t.Fatalf("reuse: failure = %v", reuse.Failure)
	}
	if reuse.Revoked != 2 || reuse.RevokeErr != nil {
		t.Fatalf("reuse revoked %d records, err %v", reuse.Revoked, reuse.RevokeErr)
	}

	if res := RunRefresh(ctx, first.Issued.RefreshToken, h.deps.Tokens); res.Failure != RefreshFailureReuse {
		t.Fatalf("successor after reuse: failure = %v", res.Failure)
	}
}

func TestRefreshExpiredAndMalformed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	login := RunLogin(ctx, "a@x.com", "Good1!", h.deps.Login)
	h.clock.Advance(24*time.Hour + time.Second)

	if res := RunRefresh(ctx, login.Issued.RefreshToken, h.deps.Tokens); res.Failure != RefreshFailureExpired {
		t.Fatalf("expired: failure = %v", res.Failure)
	}
	if res := RunRefresh(ctx, "not-a-token", h.deps.Tokens); res.Failure != RefreshFailureMalformed {
		t.Fatalf("malformed: failure = %v", res.Failure)
	}
}

func TestVerifyAndLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	login := RunLogin(ctx, "a@x.com", "Good1!", h.deps.Login)
	if v := RunVerify(ctx, login.Issued.AccessToken, jwt.TypeAccess, h.deps.Tokens); v.Failure != VerifyFailureNone {
		t.Fatalf("verify: %v %v", v.Failure, v.Err)
	}
	if v := RunVerify(ctx, login.Issued.AccessToken, jwt.TypeReset, h.deps.Tokens); v.Failure != VerifyFailureType {
		t.Fatalf("verify as reset: failure = %v", v.Failure)
	}

	out := RunLogout(ctx, login.Issued.AccessToken, h.deps.Tokens)
	if out.Failure != LogoutFailureNone || out.Revoked != 1 {
		t.Fatalf("logout: %+v", out)
	}
	if v := RunVerify(ctx, login.Issued.AccessToken, jwt.TypeAccess, h.deps.Tokens); v.Failure != VerifyFailureRevoked {
		t.Fatalf("verify after logout: failure = %v", v.Failure)
	}
	if res := RunRefresh(ctx, login.Issued.RefreshToken, h.deps.Tokens); res.Failure != RefreshFailureReuse {
		t.Fatalf("refresh after logout: failure = %v", res.Failure)
	}
	if again := RunLogout(ctx, login.Issued.AccessToken, h.deps.Tokens); again.Failure != LogoutFailureNone {
		t.Fatalf("second logout: %+v", again)
	}

	h.clock.Advance(16 * time.Minute)
	if v := RunVerify(ctx, login.Issued.AccessToken, jwt.TypeAccess, h.deps.Tokens); v.Failure != VerifyFailureExpired {
		t.Fatalf("verify after expiry: failure = %v", v.Failure)
	}
}

func TestRequestResetLimitsBeforeLookup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res := RunRequestReset(ctx, "nobody@x.com", h.deps.Reset); res.Failure != ResetRequestFailureNotFound {
			t.Fatalf("request %d: failure = %v", i, res.Failure)
		}
	}
	if res := RunRequestReset(ctx, "nobody@x.com", h.deps.Reset); res.Failure != ResetRequestFailureLimited {
		t.Fatalf("third request: failure = %v", res.Failure)
	}
}

func TestResetFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seq.QueueCodes("123456")

	login := RunLogin(ctx, "a@x.com", "Good1!", h.deps.Login)

	req := RunRequestReset(ctx, "a@x.com", h.deps.Reset)
	if req.Failure != ResetRequestFailureNone || req.Code != "123456" {
		t.Fatalf("request: %+v", req)
	}
	if !req.ExpiresAt.Equal(t0.Add(70 * time.Second)) {
		t.Fatalf("expires at %v", req.ExpiresAt)
	}

	if res := RunVerifyOTP(ctx, "a@x.com", "000000", h.deps.Reset); res.Failure != OTPFailureMismatch {
		t.Fatalf("wrong code: failure = %v", res.Failure)
	}
	ok := RunVerifyOTP(ctx, "a@x.com", "123456", h.deps.Reset)
	if ok.Failure != OTPFailureNone || ok.Claims.Subject != "a@x.com" || ok.Claims.Type != jwt.TypeReset {
		t.Fatalf("verify: %+v", ok)
	}
	if res := RunVerifyOTP(ctx, "a@x.com", "123456", h.deps.Reset); res.Failure != OTPFailureNoPasscode {
		t.Fatalf("second use: failure = %v", res.Failure)
	}

	if res := RunChangePasswordWithAuthorization(ctx, ok.Authorization, "New1!x", "New1!y", h.deps.Reset); res.Failure != ChangeFailureMismatch {
		t.Fatalf("mismatch: failure = %v", res.Failure)
	}
	changed := RunChangePasswordWithAuthorization(ctx, ok.Authorization, "New1!x", "New1!x", h.deps.Reset)
	if changed.Failure != ChangeFailureNone || changed.Revoked != 1 {
		t.Fatalf("change: %+v", changed)
	}
	if res := RunChangePasswordWithAuthorization(ctx, ok.Authorization, "Other1!", "Other1!", h.deps.Reset); res.Failure != ChangeFailureAuthorizationUsed {
		t.Fatalf("second redemption: failure = %v", res.Failure)
	}

	if res := RunLogin(ctx, "a@x.com", "New1!x", h.deps.Login); res.Failure != LoginFailureNone {
		t.Fatalf("login with new password: %v", res.Failure)
	}
	if res := RunRefresh(ctx, login.Issued.RefreshToken, h.deps.Tokens); res.Failure != RefreshFailureReuse {
		t.Fatalf("old session after change: failure = %v", res.Failure)
	}
}

func TestVerifyOTPExpiredDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seq.QueueCodes("123456")

	RunRequestReset(ctx, "a@x.com", h.deps.Reset)
	h.clock.Advance(71 * time.Second)

	if res := RunVerifyOTP(ctx, "a@x.com", "123456", h.deps.Reset); res.Failure != OTPFailureExpired {
		t.Fatalf("expired: failure = %v", res.Failure)
	}
	if res := RunVerifyOTP(ctx, "a@x.com", "123456", h.deps.Reset); res.Failure != OTPFailureNoPasscode {
		t.Fatalf("after expiry: failure = %v", res.Failure)
	}
}

func TestChangePasswordPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := RunChangePassword(ctx, "a@x.com", "abc", "abc", h.deps.Reset)
	if res.Failure != ChangeFailurePolicy || !errors.Is(res.Err, password.ErrTooShort) {
		t.Fatalf("short password: %+v", res)
	}
	if res := RunChangePassword(ctx, "nobody@x.com", "Long1!", "Long1!", h.deps.Reset); res.Failure != ChangeFailureNotFound {
		t.Fatalf("unknown account: failure = %v", res.Failure)
	}
}

func TestChangePasswordDiscardsOutstandingPasscode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seq.QueueCodes("123456")

	if req := RunRequestReset(ctx, "a@x.com", h.deps.Reset); req.Failure != ResetRequestFailureNone {
		t.Fatalf("request: %+v", req)
	}

	res := RunChangePassword(ctx, "a@x.com", "New1!x", "New1!x", h.deps.Reset)
	if res.Failure != ChangeFailureNone || res.DiscardErr != nil {
		t.Fatalf("change: %+v", res)
	}
	if res := RunVerifyOTP(ctx, "a@x.com", "123456", h.deps.Reset); res.Failure != OTPFailureNoPasscode {
		t.Fatalf("passcode after change: failure = %v", res.Failure)
	}

	// Changing again with nothing outstanding is fine.
	if res := RunChangePassword(ctx, "a@x.com", "New2!x", "New2!x", h.deps.Reset); res.Failure != ChangeFailureNone || res.DiscardErr != nil {
		t.Fatalf("second change: %+v", res)
	}
}
