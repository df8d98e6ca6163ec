package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leasecore/internal/domain"
	"leasecore/internal/usecase"

	"github.com/google/uuid"
)

// memStore is a minimal in-memory usecase.Store for handler tests. WithTx
// holds one mutex for the whole callback, standing in for the lease row
// lock.
type memData struct {
	leases     map[string]*domain.Lease
	challenges []*domain.OTPChallenge
	signatures []*domain.SignatureRecord
	approvals  []*domain.Approval
	audit      map[string][]domain.AuditEntry
}

type memStore struct {
	mu   *sync.Mutex
	data *memData
	held bool
}

func newMemStore() *memStore {
	return &memStore{
		mu: &sync.Mutex{},
		data: &memData{
			leases: make(map[string]*domain.Lease),
			audit:  make(map[string][]domain.AuditEntry),
		},
	}
}

func (s *memStore) lock() func() {
	if s.held {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) WithTx(_ context.Context, fn func(tx usecase.Store) error) error {
	if s.held {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memStore{mu: s.mu, data: s.data, held: true})
}

func (s *memStore) Leases() usecase.LeaseRepository         { return &memLeases{s} }
func (s *memStore) Challenges() usecase.ChallengeRepository { return &memChallenges{s} }
func (s *memStore) Signatures() usecase.SignatureRepository { return &memSignatures{s} }
func (s *memStore) Approvals() usecase.ApprovalRepository   { return &memApprovals{s} }
func (s *memStore) Audit() usecase.AuditRepository          { return &memAudit{s} }

type memLeases struct{ s *memStore }

func (r *memLeases) GetByID(_ context.Context, leaseID string) (*domain.Lease, error) {
	defer r.s.lock()()
	lease, ok := r.s.data.leases[leaseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *lease
	return &copied, nil
}

func (r *memLeases) GetForUpdate(ctx context.Context, leaseID string) (*domain.Lease, error) {
	return r.GetByID(ctx, leaseID)
}

func (r *memLeases) Create(_ context.Context, lease domain.Lease) error {
	defer r.s.lock()()
	if _, exists := r.s.data.leases[lease.ID]; exists {
		return fmt.Errorf("lease %s already exists", lease.ID)
	}
	copied := lease
	r.s.data.leases[lease.ID] = &copied
	return nil
}

func (r *memLeases) UpdateState(_ context.Context, leaseID string, fromVersion int64, state domain.WorkflowState, at time.Time) (*domain.Lease, error) {
	defer r.s.lock()()
	lease, ok := r.s.data.leases[leaseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if lease.DocumentVersion != fromVersion {
		return nil, domain.ErrConflict
	}
	lease.WorkflowState = state
	lease.DocumentVersion++
	lease.UpdatedAt = at
	copied := *lease
	return &copied, nil
}

type memChallenges struct{ s *memStore }

func (r *memChallenges) Create(_ context.Context, challenge domain.OTPChallenge) error {
	defer r.s.lock()()
	copied := challenge
	r.s.data.challenges = append(r.s.data.challenges, &copied)
	return nil
}

func (r *memChallenges) GetByID(_ context.Context, challengeID string) (*domain.OTPChallenge, error) {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.ID == challengeID {
			copied := *challenge
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memChallenges) GetLatest(_ context.Context, leaseID string) (*domain.OTPChallenge, error) {
	defer r.s.lock()()
	for i := len(r.s.data.challenges) - 1; i >= 0; i-- {
		if r.s.data.challenges[i].LeaseID == leaseID {
			copied := *r.s.data.challenges[i]
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memChallenges) IncrementAttempts(_ context.Context, challengeID string) (int, error) {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.ID == challengeID {
			challenge.Attempts++
			return challenge.Attempts, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (r *memChallenges) MarkVerified(_ context.Context, challengeID string, at time.Time, clientIP string) error {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.ID == challengeID {
			verifiedAt := at
			challenge.IsVerified = true
			challenge.VerifiedAt = &verifiedAt
			challenge.ClientIP = clientIP
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memChallenges) MarkExpired(_ context.Context, challengeID string) error {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.ID == challengeID {
			challenge.IsExpired = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memChallenges) ExpireActive(_ context.Context, leaseID string) error {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.LeaseID == leaseID && !challenge.IsVerified && !challenge.IsExpired {
			challenge.IsExpired = true
		}
	}
	return nil
}

type memSignatures struct{ s *memStore }

func (r *memSignatures) Create(_ context.Context, record domain.SignatureRecord) error {
	defer r.s.lock()()
	for _, existing := range r.s.data.signatures {
		if existing.LeaseID == record.LeaseID {
			return domain.ErrAlreadySigned
		}
	}
	copied := record
	r.s.data.signatures = append(r.s.data.signatures, &copied)
	return nil
}

func (r *memSignatures) GetByID(_ context.Context, recordID string) (*domain.SignatureRecord, error) {
	defer r.s.lock()()
	for _, record := range r.s.data.signatures {
		if record.ID == recordID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSignatures) GetByLease(_ context.Context, leaseID string) (*domain.SignatureRecord, error) {
	defer r.s.lock()()
	for _, record := range r.s.data.signatures {
		if record.LeaseID == leaseID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSignatures) CountByLease(_ context.Context, leaseID string) (int64, error) {
	defer r.s.lock()()
	var count int64
	for _, record := range r.s.data.signatures {
		if record.LeaseID == leaseID {
			count++
		}
	}
	return count, nil
}

type memApprovals struct{ s *memStore }

func (r *memApprovals) Create(_ context.Context, approval domain.Approval) error {
	defer r.s.lock()()
	copied := approval
	r.s.data.approvals = append(r.s.data.approvals, &copied)
	return nil
}

func (r *memApprovals) GetPending(_ context.Context, leaseID string) (*domain.Approval, error) {
	defer r.s.lock()()
	for i := len(r.s.data.approvals) - 1; i >= 0; i-- {
		approval := r.s.data.approvals[i]
		if approval.LeaseID == leaseID && approval.IsPending() {
			copied := *approval
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memApprovals) Resolve(_ context.Context, approvalID string, decision domain.ApprovalDecision, reviewedBy, comments, reason string, at time.Time) (*domain.Approval, error) {
	defer r.s.lock()()
	for _, approval := range r.s.data.approvals {
		if approval.ID == approvalID && approval.IsPending() {
			reviewedAt := at
			approval.Decision = decision
			approval.ReviewedBy = reviewedBy
			approval.Comments = comments
			approval.RejectionReason = reason
			approval.ReviewedAt = &reviewedAt
			copied := *approval
			return &copied, nil
		}
	}
	return nil, domain.ErrNoPendingApproval
}

type memAudit struct{ s *memStore }

func (r *memAudit) Append(_ context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	defer r.s.lock()()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	// Microsecond precision, matching what timestamptz stores.
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Microsecond)
	chain := r.s.data.audit[entry.LeaseID]
	entry.Seq = int64(len(chain)) + 1
	entry.PrevEntryHash = usecase.ZeroEntryHash()
	if len(chain) > 0 {
		prev := chain[len(chain)-1]
		entry.PrevEntryHash = prev.EntryHash
		if entry.CreatedAt.Before(prev.CreatedAt) {
			entry.CreatedAt = prev.CreatedAt
		}
	}
	payloadHash, err := usecase.DetailHash(entry.Detail)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.PayloadHash = payloadHash
	entryHash, err := usecase.EntryHash(entry)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.EntryHash = entryHash
	r.s.data.audit[entry.LeaseID] = append(chain, entry)
	return entry, nil
}

func (r *memAudit) History(_ context.Context, leaseID string) ([]domain.AuditEntry, error) {
	defer r.s.lock()()
	chain := r.s.data.audit[leaseID]
	out := make([]domain.AuditEntry, len(chain))
	copy(out, chain)
	return out, nil
}

// recordingNotifier collects outbound messages for assertions.
type recordingNotifier struct {
	mu  sync.Mutex
	sms []string
}

func (n *recordingNotifier) SendSMS(_ context.Context, phone, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sms = append(n.sms, message)
	return nil
}

func (n *recordingNotifier) SendEmail(_ context.Context, _, _, _ string) error {
	return nil
}

func (n *recordingNotifier) lastSMS() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sms) == 0 {
		return ""
	}
	return n.sms[len(n.sms)-1]
}

type allowLimiter struct{}

func (allowLimiter) Allow(_ context.Context, _ string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{Allowed: true, Limit: limit}, nil
}
