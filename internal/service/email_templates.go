package service

import (
	"fmt"
	"time"
)

// humanDuration renders a link lifetime for email text, e.g. "24 hours".
func humanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func verificationEmailTemplate(username, verifyURL, expiresIn, appName string) (string, string) {
	subject := fmt.Sprintf("Verify your email for %s", appName)
	body := fmt.Sprintf(`Hi %s,

Thanks for signing up! Please confirm your email address by opening this link:
%s

This link expires in %s and can only be used once.

If you didn't create an account, you can safely ignore this email.

Best,
The %s Team`, username, verifyURL, expiresIn, appName)

	return subject, body
}

func passwordResetEmailTemplate(username, resetURL, expiresIn, appName string) (string, string) {
	subject := fmt.Sprintf("Reset your password for %s", appName)
	body := fmt.Sprintf(`Hi %s,

You requested to reset your password. Choose a new one here:
%s

This link expires in %s and can only be used once. Resetting your password signs you out everywhere.

If you didn't request this, you can safely ignore this email. Your password won't be changed.

Best,
The %s Team`, username, resetURL, expiresIn, appName)

	return subject, body
}

func passwordChangedEmailTemplate(username, appName string) (string, string) {
	subject := fmt.Sprintf("Your %s password was changed", appName)
	body := fmt.Sprintf(`Hi %s,

The password for your account was just changed and all active sessions were signed out.

If you didn't do this, reset your password immediately and contact our support team.

Best,
The %s Team`, username, appName)

	return subject, body
}

func accountSuspendedEmailTemplate(username, appName string) (string, string) {
	subject := fmt.Sprintf("Your %s account has been suspended", appName)
	body := fmt.Sprintf(`Hi %s,

Your account has been suspended and you have been signed out of all devices.

If you believe this is a mistake, please reach out to our support team.

Best,
The %s Team`, username, appName)

	return subject, body
}
