package internaldefs

import (
	"github.com/depotline/authcore"
)

// CounterDef pairs an engine counter with its stable exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order. Both exporters
// iterate this slice so the two surfaces always agree on names.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins refused by an active lockout or triggering one."},
	{ID: authcore.MetricMFARequired, Name: "authcore_mfa_required_total", Help: "Logins parked on a pending MFA session."},
	{ID: authcore.MetricMFASuccess, Name: "authcore_mfa_success_total", Help: "Completed second-factor verifications."},
	{ID: authcore.MetricMFAFailure, Name: "authcore_mfa_failure_total", Help: "Rejected second-factor codes."},
	{ID: authcore.MetricMFALocked, Name: "authcore_mfa_locked_total", Help: "Verifications refused by the MFA lockout."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Consumed single-use recovery codes."},
	{ID: authcore.MetricTrustedDeviceBypass, Name: "authcore_trusted_device_bypass_total", Help: "MFA gates skipped by a trusted device."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Replays of rotated-out refresh tokens."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricForceLogout, Name: "authcore_force_logout_total", Help: "Single-session force-logout notifications."},
	{ID: authcore.MetricPasswordChanged, Name: "authcore_password_changed_total", Help: "Completed credential changes."},
	{ID: authcore.MetricPasswordRejected, Name: "authcore_password_rejected_total", Help: "Credential changes rejected by policy or reuse."},
}

// AuditDroppedName is the exported name of the audit backpressure counter.
const AuditDroppedName = "authcore_audit_dropped_total"

// AuditDroppedHelp documents the audit backpressure counter.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
