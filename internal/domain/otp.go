package domain

import "time"

const (
	OTPPurposeDigitalSigning = "digital_signing"
)

// OTPChallenge is one issued passcode bound to a lease and a phone number.
// The code column holds a bcrypt hash; plaintext exists only in the SMS.
type OTPChallenge struct {
	ID         string
	LeaseID    string
	Phone      string
	CodeHash   string
	Purpose    string
	SentAt     time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	Attempts   int
	IsVerified bool
	IsExpired  bool
	ClientIP   string
	CreatedAt  time.Time
}

// IsActive reports whether the challenge is still eligible for verification:
// not expired, not verified, attempts below the ceiling and within the window.
func (c OTPChallenge) IsActive(now time.Time, maxAttempts int) bool {
	return !c.IsExpired &&
		!c.IsVerified &&
		c.Attempts < maxAttempts &&
		now.Before(c.ExpiresAt)
}

func (c OTPChallenge) HasExpired(now time.Time) bool {
	return c.IsExpired || !now.Before(c.ExpiresAt)
}

func (c OTPChallenge) MaxAttemptsReached(maxAttempts int) bool {
	return c.Attempts >= maxAttempts
}

// VerifiedWithin reports whether the challenge was verified recently enough
// to still authorize a signature capture.
func (c OTPChallenge) VerifiedWithin(now time.Time, window time.Duration) bool {
	return c.IsVerified &&
		c.VerifiedAt != nil &&
		!c.VerifiedAt.Before(now.Add(-window))
}
