package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"leasecore/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type OTPConfig struct {
	// CodeLength is the number of digits in a generated code.
	CodeLength int
	// Expiry is the challenge validity window from issuance.
	Expiry time.Duration
	// MaxVerifyAttempts is the per-challenge attempt ceiling.
	MaxVerifyAttempts int
	// IssueLimit and IssueWindow bound how many challenges may be issued
	// per lease within a rolling window.
	IssueLimit  int
	IssueWindow time.Duration
	// VerifiedValidity is how long a verified challenge authorizes a
	// signature capture before it goes stale.
	VerifiedValidity time.Duration
}

func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		CodeLength:        6,
		Expiry:            10 * time.Minute,
		MaxVerifyAttempts: 3,
		IssueLimit:        3,
		IssueWindow:       time.Hour,
		VerifiedValidity:  30 * time.Minute,
	}
}

// OTPService issues and verifies signing passcodes. Issuance and
// verification for the same lease are serialized on the lease row; other
// leases proceed independently.
type OTPService struct {
	Store    Store
	Limiter  domain.RateLimiter
	Notifier domain.Notifier
	Config   OTPConfig
	Now      func() time.Time
}

func NewOTPService(store Store, limiter domain.RateLimiter, notifier domain.Notifier, cfg OTPConfig) *OTPService {
	if cfg.CodeLength <= 0 {
		cfg = DefaultOTPConfig()
	}
	return &OTPService{
		Store:    store,
		Limiter:  limiter,
		Notifier: notifier,
		Config:   cfg,
		Now:      time.Now,
	}
}

func (s *OTPService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue generates a new challenge for the lease, superseding any prior
// active one, and dispatches the code by SMS. The code is stored only as a
// bcrypt hash. A dispatch failure leaves the challenge active and is
// audit-logged for manual resend.
func (s *OTPService) Issue(ctx context.Context, leaseID, phone, purpose string, actor domain.Actor) (*domain.OTPChallenge, error) {
	if leaseID == "" || phone == "" {
		return nil, errors.New("lease_id and phone are required")
	}
	if purpose == "" {
		purpose = domain.OTPPurposeDigitalSigning
	}

	// An unknown lease must not consume limiter budget or leave audit rows.
	if _, err := s.Store.Leases().GetByID(ctx, leaseID); err != nil {
		return nil, err
	}

	decision, err := s.Limiter.Allow(ctx, "otp:lease:"+leaseID, s.Config.IssueLimit, s.Config.IssueWindow)
	if err != nil {
		return nil, fmt.Errorf("otp rate limiter: %w", err)
	}
	if !decision.Allowed {
		if _, auditErr := s.Store.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   leaseID,
			Action:    domain.AuditActionOTPRateLimited,
			ActorID:   actor.ID,
			ActorRole: actorRole(actor),
			Detail: map[string]any{
				"phone":    maskPhone(phone),
				"limit":    decision.Limit,
				"reset_at": decision.ResetAt.UTC().Format(time.RFC3339),
			},
			CreatedAt: s.now(),
		}); auditErr != nil {
			return nil, auditErr
		}
		return nil, fmt.Errorf("%w: limit %d per window", domain.ErrRateLimited, s.Config.IssueLimit)
	}

	code, err := generateCode(s.Config.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp code: %w", err)
	}
	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp code: %w", err)
	}

	now := s.now()
	challenge := domain.OTPChallenge{
		ID:        uuid.NewString(),
		LeaseID:   leaseID,
		Phone:     phone,
		CodeHash:  string(codeHash),
		Purpose:   purpose,
		SentAt:    now,
		ExpiresAt: now.Add(s.Config.Expiry),
		CreatedAt: now,
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		// Lease row lock serializes issuance with verification and
		// transitions on the same lease.
		if _, err := tx.Leases().GetForUpdate(ctx, leaseID); err != nil {
			return err
		}
		if err := tx.Challenges().ExpireActive(ctx, leaseID); err != nil {
			return err
		}
		if err := tx.Challenges().Create(ctx, challenge); err != nil {
			return err
		}
		_, err := tx.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   leaseID,
			Action:    domain.AuditActionOTPIssued,
			ActorID:   actor.ID,
			ActorRole: actorRole(actor),
			Detail: map[string]any{
				"challenge_id": challenge.ID,
				"phone":        maskPhone(phone),
				"purpose":      purpose,
				"expires_at":   challenge.ExpiresAt.UTC().Format(time.RFC3339),
			},
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Your lease signing code is %s. It expires in %d minutes.",
		code, int(s.Config.Expiry.Minutes()))
	if sendErr := s.Notifier.SendSMS(ctx, phone, message); sendErr != nil {
		log.Printf("otp sms dispatch failed for lease %s: %v", leaseID, sendErr)
		if _, auditErr := s.Store.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   leaseID,
			Action:    domain.AuditActionOTPSendFailed,
			ActorRole: "system",
			Detail: map[string]any{
				"challenge_id": challenge.ID,
				"phone":        maskPhone(phone),
				"error":        sendErr.Error(),
			},
			CreatedAt: s.now(),
		}); auditErr != nil {
			return nil, auditErr
		}
	}

	return &challenge, nil
}

// Verify checks a submitted code against the lease's active challenge. It
// fails closed: an expired, verified, or exhausted challenge never matches,
// whatever the code. The attempt counter is incremented before the code is
// compared, including on the correct guess.
func (s *OTPService) Verify(ctx context.Context, leaseID, code, clientIP string) error {
	if leaseID == "" {
		return errors.New("lease_id is required")
	}
	// Verification failures are returned through verifyErr, not the
	// transaction callback: the attempt counter and the failure audit
	// entry must commit even when the code is wrong.
	var verifyErr error
	err := s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.Leases().GetForUpdate(ctx, leaseID); err != nil {
			return err
		}
		challenge, err := tx.Challenges().GetLatest(ctx, leaseID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: no challenge issued", domain.ErrOTPExpired)
			}
			return err
		}

		now := s.now()
		if challenge.IsVerified {
			verifyErr, err = s.auditFailure(ctx, tx, challenge, clientIP, "already_verified", domain.ErrOTPExpired)
			return err
		}
		if challenge.MaxAttemptsReached(s.Config.MaxVerifyAttempts) {
			verifyErr, err = s.auditFailure(ctx, tx, challenge, clientIP, "attempt_limit", domain.ErrOTPExhausted)
			return err
		}
		if challenge.HasExpired(now) {
			if !challenge.IsExpired {
				if err := tx.Challenges().MarkExpired(ctx, challenge.ID); err != nil {
					return err
				}
			}
			verifyErr, err = s.auditFailure(ctx, tx, challenge, clientIP, "expired", domain.ErrOTPExpired)
			return err
		}

		attempts, err := tx.Challenges().IncrementAttempts(ctx, challenge.ID)
		if err != nil {
			return err
		}

		if bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
			challenge.Attempts = attempts
			if attempts >= s.Config.MaxVerifyAttempts {
				if err := tx.Challenges().MarkExpired(ctx, challenge.ID); err != nil {
					return err
				}
				verifyErr, err = s.auditFailure(ctx, tx, challenge, clientIP, "attempt_limit", domain.ErrOTPExhausted)
				return err
			}
			verifyErr, err = s.auditFailure(ctx, tx, challenge, clientIP, "mismatch", domain.ErrOTPMismatch)
			return err
		}

		if err := tx.Challenges().MarkVerified(ctx, challenge.ID, now, clientIP); err != nil {
			return err
		}
		_, err = tx.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   leaseID,
			Action:    domain.AuditActionOTPVerified,
			ActorRole: "tenant",
			ClientIP:  clientIP,
			Detail: map[string]any{
				"challenge_id": challenge.ID,
				"attempts":     attempts,
			},
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return err
	}
	return verifyErr
}

// auditFailure records a verification failure. The first return is the
// typed failure for the caller; the second is an infrastructure error that
// should abort the transaction.
func (s *OTPService) auditFailure(ctx context.Context, tx Store, challenge *domain.OTPChallenge, clientIP, reason string, kind error) (error, error) {
	action := domain.AuditActionOTPFailed
	if reason == "expired" {
		action = domain.AuditActionOTPExpired
	}
	if _, err := tx.Audit().Append(ctx, domain.AuditEntry{
		LeaseID:   challenge.LeaseID,
		Action:    action,
		ActorRole: "tenant",
		ClientIP:  clientIP,
		Detail: map[string]any{
			"challenge_id": challenge.ID,
			"reason":       reason,
			"attempts":     challenge.Attempts,
		},
		CreatedAt: s.now(),
	}); err != nil {
		return nil, err
	}
	return fmt.Errorf("%w: challenge %s", kind, challenge.ID), nil
}

// ActiveChallenge returns the lease's single currently verifiable
// challenge, or domain.ErrNotFound when none is eligible.
func (s *OTPService) ActiveChallenge(ctx context.Context, leaseID string) (*domain.OTPChallenge, error) {
	challenge, err := s.Store.Challenges().GetLatest(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if !challenge.IsActive(s.now(), s.Config.MaxVerifyAttempts) {
		return nil, domain.ErrNotFound
	}
	return challenge, nil
}

// VerifiedChallenge returns the latest challenge when it is verified and
// still within the capture-authorization window. Superseded verifications
// do not qualify: a newer challenge replaces the older one as the only
// candidate.
func (s *OTPService) VerifiedChallenge(ctx context.Context, leaseID string) (*domain.OTPChallenge, error) {
	challenge, err := s.Store.Challenges().GetLatest(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if !challenge.VerifiedWithin(s.now(), s.Config.VerifiedValidity) {
		return nil, domain.ErrNotFound
	}
	return challenge, nil
}

func actorRole(actor domain.Actor) string {
	if actor.Role != "" {
		return actor.Role
	}
	return "system"
}

func maskPhone(phone string) string {
	digits := len(phone)
	if digits <= 3 {
		return strings.Repeat("*", digits)
	}
	return strings.Repeat("*", digits-3) + phone[digits-3:]
}

func generateCode(length int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < length; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
