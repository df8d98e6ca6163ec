package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leasecore/internal/domain"

	"github.com/google/uuid"
)

// CaptureInput carries the raw signing evidence and its provenance.
type CaptureInput struct {
	Payload   []byte
	Method    domain.SignatureMethod
	Location  *domain.Geolocation
	ClientIP  string
	UserAgent string
}

// SignatureService gates and records signing evidence. It never mutates
// lease state; the workflow component orchestrates the capture transaction
// and the transition that follows.
type SignatureService struct {
	Store Store
	OTP   *OTPService
	Now   func() time.Time
}

func NewSignatureService(store Store, otp *OTPService) *SignatureService {
	return &SignatureService{Store: store, OTP: otp, Now: time.Now}
}

func (s *SignatureService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CanCapture reports whether the lease currently qualifies for signature
// capture: a verified, unexpired-window challenge exists, it has not been
// superseded by a newer challenge, and no signature has been captured yet.
func (s *SignatureService) CanCapture(ctx context.Context, leaseID string) bool {
	_, err := s.eligibleChallenge(ctx, s.Store, leaseID)
	return err == nil
}

// eligibleChallenge returns the challenge authorizing capture or a typed
// error describing why capture is not allowed.
func (s *SignatureService) eligibleChallenge(ctx context.Context, store Store, leaseID string) (*domain.OTPChallenge, error) {
	count, err := store.Signatures().CountByLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: lease %s", domain.ErrAlreadySigned, leaseID)
	}
	challenge, err := store.Challenges().GetLatest(ctx, leaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no verified challenge", domain.ErrNotAuthorized)
		}
		return nil, err
	}
	if !challenge.VerifiedWithin(s.now(), s.OTP.Config.VerifiedValidity) {
		return nil, fmt.Errorf("%w: no verified challenge", domain.ErrNotAuthorized)
	}
	return challenge, nil
}

// CaptureIn creates the signature record inside the caller's transaction.
// It validates the gate against the tx-bound store, computes the integrity
// hash over the raw payload bytes and audit-logs the capture, including
// whether geolocation was present.
func (s *SignatureService) CaptureIn(ctx context.Context, tx Store, leaseID string, input CaptureInput) (*domain.SignatureRecord, error) {
	if len(input.Payload) == 0 {
		return nil, errors.New("signature payload is required")
	}
	method := input.Method
	if method == "" {
		method = domain.SignatureMethodCanvas
	}
	if !method.Valid() {
		return nil, fmt.Errorf("invalid signature method %q", method)
	}

	// Gating failures are audited by the workflow after rollback, so the
	// rejection entry is not lost with the aborted transaction.
	challenge, err := s.eligibleChallenge(ctx, tx, leaseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := domain.SignatureRecord{
		ID:            uuid.NewString(),
		LeaseID:       leaseID,
		ChallengeID:   challenge.ID,
		Payload:       input.Payload,
		Method:        method,
		IntegrityHash: domain.ComputeIntegrityHash(input.Payload),
		SignedAt:      now,
		Location:      input.Location,
		ClientIP:      input.ClientIP,
		UserAgent:     input.UserAgent,
		CreatedAt:     now,
	}
	if err := tx.Signatures().Create(ctx, record); err != nil {
		return nil, err
	}

	if _, err := tx.Audit().Append(ctx, domain.AuditEntry{
		LeaseID:   leaseID,
		Action:    domain.AuditActionSignatureCaptured,
		ActorRole: "tenant",
		ClientIP:  input.ClientIP,
		Detail: map[string]any{
			"signature_id":   record.ID,
			"challenge_id":   challenge.ID,
			"method":         string(method),
			"integrity_hash": record.IntegrityHash,
			"has_location":   record.HasLocation(),
		},
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	return &record, nil
}

// VerifyIntegrity recomputes the digest of a stored record and compares it
// to the stored hash. A mismatch is reported as ErrIntegrityViolation and
// audit-logged; the record itself is never altered.
func (s *SignatureService) VerifyIntegrity(ctx context.Context, recordID string) error {
	record, err := s.Store.Signatures().GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	if record.VerifyIntegrity() {
		return nil
	}
	if _, auditErr := s.Store.Audit().Append(ctx, domain.AuditEntry{
		LeaseID:   record.LeaseID,
		Action:    domain.AuditActionSignatureRejected,
		ActorRole: "system",
		Detail: map[string]any{
			"signature_id": record.ID,
			"reason":       "integrity_hash_mismatch",
		},
		CreatedAt: s.now(),
	}); auditErr != nil {
		return auditErr
	}
	return fmt.Errorf("%w: record %s", domain.ErrIntegrityViolation, record.ID)
}
