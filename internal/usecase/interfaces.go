package usecase

import (
	"context"
	"time"

	"leasecore/internal/domain"
)

type LeaseRepository interface {
	GetByID(ctx context.Context, leaseID string) (*domain.Lease, error)
	// GetForUpdate loads the lease under a row-level exclusive lock. Only
	// meaningful inside Store.WithTx; the lock is held until the
	// transaction commits or rolls back.
	GetForUpdate(ctx context.Context, leaseID string) (*domain.Lease, error)
	Create(ctx context.Context, lease domain.Lease) error
	// UpdateState advances the workflow state iff document_version still
	// equals fromVersion, bumping the version by one. A stale version
	// yields domain.ErrConflict.
	UpdateState(ctx context.Context, leaseID string, fromVersion int64, state domain.WorkflowState, at time.Time) (*domain.Lease, error)
}

type ChallengeRepository interface {
	Create(ctx context.Context, challenge domain.OTPChallenge) error
	GetByID(ctx context.Context, challengeID string) (*domain.OTPChallenge, error)
	// GetLatest returns the most recently issued challenge for the lease,
	// or domain.ErrNotFound when none exists.
	GetLatest(ctx context.Context, leaseID string) (*domain.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, challengeID string) (int, error)
	MarkVerified(ctx context.Context, challengeID string, at time.Time, clientIP string) error
	MarkExpired(ctx context.Context, challengeID string) error
	// ExpireActive marks every non-verified, non-expired challenge for the
	// lease expired. Issuing a new challenge supersedes all prior ones.
	ExpireActive(ctx context.Context, leaseID string) error
}

type SignatureRepository interface {
	Create(ctx context.Context, record domain.SignatureRecord) error
	GetByID(ctx context.Context, recordID string) (*domain.SignatureRecord, error)
	GetByLease(ctx context.Context, leaseID string) (*domain.SignatureRecord, error)
	CountByLease(ctx context.Context, leaseID string) (int64, error)
}

type ApprovalRepository interface {
	Create(ctx context.Context, approval domain.Approval) error
	// GetPending returns the unresolved approval for the lease, or
	// domain.ErrNotFound.
	GetPending(ctx context.Context, leaseID string) (*domain.Approval, error)
	Resolve(ctx context.Context, approvalID string, decision domain.ApprovalDecision, reviewedBy, comments, reason string, at time.Time) (*domain.Approval, error)
}

// AuditRepository is append-only. No update or delete exists anywhere on
// this contract; the storage layer enforces the same.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	History(ctx context.Context, leaseID string) ([]domain.AuditEntry, error)
}

// Store aggregates the repositories and provides transactional composition.
// WithTx runs fn against repositories bound to a single transaction; the
// whole unit commits or rolls back together.
type Store interface {
	Leases() LeaseRepository
	Challenges() ChallengeRepository
	Signatures() SignatureRepository
	Approvals() ApprovalRepository
	Audit() AuditRepository
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
