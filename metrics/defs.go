package metrics

// Def describes how an id is exported.
type Def struct {
	ID   ID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []Def{
	{LoginSuccess, "authcore_login_success_total", "Successful logins."},
	{LoginFailure, "authcore_login_failure_total", "Logins rejected for unknown account or wrong password."},
	{LoginInactive, "authcore_login_inactive_total", "Logins rejected because the account is not active."},
	{PasswordHashUpgraded, "authcore_password_hash_upgraded_total", "Legacy password hashes rewritten as argon2id."},
	{RefreshSuccess, "authcore_refresh_success_total", "Successful refresh token rotations."},
	{RefreshFailure, "authcore_refresh_failure_total", "Refresh attempts with an invalid token."},
	{RefreshExpired, "authcore_refresh_expired_total", "Refresh attempts with an expired token."},
	{RefreshReuseDetected, "authcore_refresh_reuse_detected_total", "Refresh token reuse detections."},
	{AccessVerified, "authcore_access_verified_total", "Access tokens that verified."},
	{AccessRejected, "authcore_access_rejected_total", "Access tokens rejected as invalid or expired."},
	{AccessRevoked, "authcore_access_revoked_total", "Access tokens rejected as revoked."},
	{Logout, "authcore_logout_total", "Single session logouts."},
	{LogoutAll, "authcore_logout_all_total", "Logouts of every session of a subject."},
	{ResetRequest, "authcore_reset_request_total", "Password reset requests."},
	{ResetRateLimited, "authcore_reset_rate_limited_total", "Password reset requests denied by the rate limit."},
	{ResetNotifyFailure, "authcore_reset_notify_failure_total", "Reset passcodes the notifier failed to deliver."},
	{OTPVerifySuccess, "authcore_otp_verify_success_total", "Passcodes that verified."},
	{OTPVerifyFailure, "authcore_otp_verify_failure_total", "Passcodes rejected as invalid."},
	{OTPExpired, "authcore_otp_expired_total", "Passcodes rejected as expired."},
	{PasswordChangeSuccess, "authcore_password_change_success_total", "Password changes."},
	{PasswordChangeRejected, "authcore_password_change_rejected_total", "Password changes rejected by mismatch or policy."},
	{BackendUnavailable, "authcore_backend_unavailable_total", "Operations failed by an unavailable store."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []Def{
	{LoginLatency, "authcore_login_latency_seconds", "Authenticate latency."},
	{RefreshLatency, "authcore_refresh_latency_seconds", "Refresh latency."},
	{VerifyLatency, "authcore_verify_latency_seconds", "Access token verification latency."},
}

// BucketBounds are the upper bounds of the histogram buckets in seconds.
// The last bucket is +Inf.
var BucketBounds = [BucketCount - 1]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketSuffixes name each bucket inside OpenTelemetry instrument names.
var BucketSuffixes = [BucketCount]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// Cumulative turns per-bucket counts into running totals. Short or nil input
// is padded with zeros.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var sum uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			sum += raw[i]
		}
		out[i] = sum
	}
	return out
}
