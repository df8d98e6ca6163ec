package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leasecore/internal/domain"

	"github.com/google/uuid"
)

// fakeData is the shared backing state for a fake store and all of its
// transactional views.
type fakeData struct {
	leases     map[string]*domain.Lease
	challenges []*domain.OTPChallenge
	signatures []*domain.SignatureRecord
	approvals  []*domain.Approval
	audit      map[string][]domain.AuditEntry
}

// fakeStore implements Store in memory. WithTx holds the store mutex for
// the whole callback, which mirrors how the lease row lock serializes
// concurrent units of work against one lease.
type fakeStore struct {
	mu   *sync.Mutex
	data *fakeData
	held bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mu: &sync.Mutex{},
		data: &fakeData{
			leases: make(map[string]*domain.Lease),
			audit:  make(map[string][]domain.AuditEntry),
		},
	}
}

func (s *fakeStore) lock() func() {
	if s.held {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *fakeStore) WithTx(_ context.Context, fn func(tx Store) error) error {
	if s.held {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeStore{mu: s.mu, data: s.data, held: true})
}

func (s *fakeStore) Leases() LeaseRepository         { return &fakeLeaseRepo{s} }
func (s *fakeStore) Challenges() ChallengeRepository { return &fakeChallengeRepo{s} }
func (s *fakeStore) Signatures() SignatureRepository { return &fakeSignatureRepo{s} }
func (s *fakeStore) Approvals() ApprovalRepository   { return &fakeApprovalRepo{s} }
func (s *fakeStore) Audit() AuditRepository          { return &fakeAuditRepo{s} }

type fakeLeaseRepo struct{ s *fakeStore }

func (r *fakeLeaseRepo) GetByID(_ context.Context, leaseID string) (*domain.Lease, error) {
	defer r.s.lock()()
	lease, ok := r.s.data.leases[leaseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *lease
	return &copied, nil
}

func (r *fakeLeaseRepo) GetForUpdate(ctx context.Context, leaseID string) (*domain.Lease, error) {
	return r.GetByID(ctx, leaseID)
}

func (r *fakeLeaseRepo) Create(_ context.Context, lease domain.Lease) error {
	defer r.s.lock()()
	if _, exists := r.s.data.leases[lease.ID]; exists {
		return fmt.Errorf("lease %s already exists", lease.ID)
	}
	copied := lease
	r.s.data.leases[lease.ID] = &copied
	return nil
}

func (r *fakeLeaseRepo) UpdateState(_ context.Context, leaseID string, fromVersion int64, state domain.WorkflowState, at time.Time) (*domain.Lease, error) {
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

type fakeChallengeRepo struct{ s *fakeStore }

func (r *fakeChallengeRepo) Create(_ context.Context, challenge domain.OTPChallenge) error {
	defer r.s.lock()()
	copied := challenge
	r.s.data.challenges = append(r.s.data.challenges, &copied)
	return nil
}

func (r *fakeChallengeRepo) GetByID(_ context.Context, challengeID string) (*domain.OTPChallenge, error) {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.ID == challengeID {
			copied := *challenge
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeChallengeRepo) GetLatest(_ context.Context, leaseID string) (*domain.OTPChallenge, error) {
	defer r.s.lock()()
	for i := len(r.s.data.challenges) - 1; i >= 0; i-- {
		if r.s.data.challenges[i].LeaseID == leaseID {
			copied := *r.s.data.challenges[i]
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeChallengeRepo) IncrementAttempts(_ context.Context, challengeID string) (int, error) {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.ID == challengeID {
			challenge.Attempts++
			return challenge.Attempts, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (r *fakeChallengeRepo) MarkVerified(_ context.Context, challengeID string, at time.Time, clientIP string) error {
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

func (r *fakeChallengeRepo) MarkExpired(_ context.Context, challengeID string) error {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.ID == challengeID {
			challenge.IsExpired = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeChallengeRepo) ExpireActive(_ context.Context, leaseID string) error {
	defer r.s.lock()()
	for _, challenge := range r.s.data.challenges {
		if challenge.LeaseID == leaseID && !challenge.IsVerified && !challenge.IsExpired {
			challenge.IsExpired = true
		}
	}
	return nil
}

type fakeSignatureRepo struct{ s *fakeStore }

func (r *fakeSignatureRepo) Create(_ context.Context, record domain.SignatureRecord) error {
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

func (r *fakeSignatureRepo) GetByID(_ context.Context, recordID string) (*domain.SignatureRecord, error) {
	defer r.s.lock()()
	for _, record := range r.s.data.signatures {
		if record.ID == recordID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSignatureRepo) GetByLease(_ context.Context, leaseID string) (*domain.SignatureRecord, error) {
	defer r.s.lock()()
	for _, record := range r.s.data.signatures {
		if record.LeaseID == leaseID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSignatureRepo) CountByLease(_ context.Context, leaseID string) (int64, error) {
	defer r.s.lock()()
	var count int64
	for _, record := range r.s.data.signatures {
		if record.LeaseID == leaseID {
			count++
		}
	}
	return count, nil
}

type fakeApprovalRepo struct{ s *fakeStore }

func (r *fakeApprovalRepo) Create(_ context.Context, approval domain.Approval) error {
	defer r.s.lock()()
	copied := approval
	r.s.data.approvals = append(r.s.data.approvals, &copied)
	return nil
}

func (r *fakeApprovalRepo) GetPending(_ context.Context, leaseID string) (*domain.Approval, error) {
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

func (r *fakeApprovalRepo) Resolve(_ context.Context, approvalID string, decision domain.ApprovalDecision, reviewedBy, comments, reason string, at time.Time) (*domain.Approval, error) {
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

// fakeAuditRepo appends with the same per-lease chain semantics as the real
// repository: seq, prev hash, payload hash and entry hash.
type fakeAuditRepo struct{ s *fakeStore }

func (r *fakeAuditRepo) Append(_ context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
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
	entry.PrevEntryHash = ZeroEntryHash()
	if len(chain) > 0 {
		prev := chain[len(chain)-1]
		entry.PrevEntryHash = prev.EntryHash
		if entry.CreatedAt.Before(prev.CreatedAt) {
			entry.CreatedAt = prev.CreatedAt
		}
	}

	payloadHash, err := DetailHash(entry.Detail)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.PayloadHash = payloadHash
	entryHash, err := EntryHash(entry)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.EntryHash = entryHash

	r.s.data.audit[entry.LeaseID] = append(chain, entry)
	return entry, nil
}

func (r *fakeAuditRepo) History(_ context.Context, leaseID string) ([]domain.AuditEntry, error) {
	defer r.s.lock()()
	chain := r.s.data.audit[leaseID]
	out := make([]domain.AuditEntry, len(chain))
	copy(out, chain)
	return out, nil
}

// fakeLimiter either always allows or denies after a fixed number of calls.
type fakeLimiter struct {
	mu        sync.Mutex
	allowN    int
	calls     int
	unlimited bool
}

func allowAllLimiter() *fakeLimiter { return &fakeLimiter{unlimited: true} }

func (l *fakeLimiter) Allow(_ context.Context, _ string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.unlimited || l.calls <= l.allowN {
		return domain.RateLimitDecision{Allowed: true, Limit: limit}, nil
	}
	return domain.RateLimitDecision{Allowed: false, Limit: limit}, nil
}

// fakeNotifier records sends and can be told to fail SMS dispatch.
type fakeNotifier struct {
	mu      sync.Mutex
	sms     []string
	emails  []string
	failSMS error
}

func (n *fakeNotifier) SendSMS(_ context.Context, phone, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failSMS != nil {
		return n.failSMS
	}
	n.sms = append(n.sms, phone+": "+message)
	return nil
}

func (n *fakeNotifier) SendEmail(_ context.Context, address, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, address+": "+subject)
	return nil
}

func (n *fakeNotifier) lastSMS() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sms) == 0 {
		return ""
	}
	return n.sms[len(n.sms)-1]
}

type fakeLinkIssuer struct {
	token string
	err   error
}

func (f *fakeLinkIssuer) Issue(_, _ string, expiry time.Duration) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	token := f.token
	if token == "" {
		token = "link-token"
	}
	return token, time.Now().UTC().Add(expiry), nil
}
