package model

import (
	"time"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
)

type User struct {
	ID                    string     `db:"id"`
	Email                 string     `db:"email"`
	Username              string     `db:"username"`
	PasswordHash          string     `db:"password_hash"`
	Role                  Role       `db:"role"`
	Status                Status     `db:"status"`
	VerificationTokenHash *string    `db:"verification_token_hash"`
	VerificationSentAt    *time.Time `db:"verification_sent_at"`
	EmailVerifiedAt       *time.Time `db:"email_verified_at"`
	ResetTokenHash        *string    `db:"reset_token_hash"`
	ResetTokenExpiresAt   *time.Time `db:"reset_token_expires_at"`
	LastLoginAt           *time.Time `db:"last_login_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

func (u *User) IsSuspended() bool {
	return u.Status == StatusSuspended
}

func (u *User) IsPendingVerification() bool {
	return u.Status == StatusPendingVerification
}

// VerificationExpired reports whether the verification token sent to the user is older than ttl.
func (u *User) VerificationExpired(now time.Time, ttl time.Duration) bool {
	if u.VerificationSentAt == nil {
		return true
	}
	return now.After(u.VerificationSentAt.Add(ttl))
}

func (u *User) ResetTokenExpired(now time.Time) bool {
	if u.ResetTokenExpiresAt == nil {
		return true
	}
	return now.After(*u.ResetTokenExpiresAt)
}
