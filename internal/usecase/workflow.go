package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"leasecore/internal/domain"

	"github.com/google/uuid"
)

// SigningLinkIssuer mints expiring tenant signing-link tokens.
type SigningLinkIssuer interface {
	Issue(leaseID, tenantID string, expiry time.Duration) (token string, expiresAt time.Time, err error)
}

type NotifyMethod string

const (
	NotifySMS   NotifyMethod = "sms"
	NotifyEmail NotifyMethod = "email"
	NotifyBoth  NotifyMethod = "both"
)

type WorkflowConfig struct {
	SigningLinkExpiry time.Duration
	// SigningBaseURL prefixes the signing-link token in outbound messages.
	SigningBaseURL string
}

// LeaseWorkflow is the only component that mutates a lease's workflow
// state. Every transition validates the static edge table, holds the lease
// row lock, and appends exactly one audit entry in the same transaction.
type LeaseWorkflow struct {
	Store      Store
	OTP        *OTPService
	Signatures *SignatureService
	Links      SigningLinkIssuer
	Notifier   domain.Notifier
	Config     WorkflowConfig
	Now        func() time.Time
}

func NewLeaseWorkflow(store Store, otp *OTPService, signatures *SignatureService, links SigningLinkIssuer, notifier domain.Notifier, cfg WorkflowConfig) *LeaseWorkflow {
	if cfg.SigningLinkExpiry <= 0 {
		cfg.SigningLinkExpiry = 72 * time.Hour
	}
	return &LeaseWorkflow{
		Store:      store,
		OTP:        otp,
		Signatures: signatures,
		Links:      links,
		Notifier:   notifier,
		Config:     cfg,
		Now:        time.Now,
	}
}

func (w *LeaseWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// CreateLease registers a new lease in draft and writes its first audit
// entry.
func (w *LeaseWorkflow) CreateLease(ctx context.Context, lease domain.Lease, actor domain.Actor) (*domain.Lease, error) {
	if lease.ID == "" {
		lease.ID = uuid.NewString()
	}
	if lease.WorkflowState == "" {
		lease.WorkflowState = domain.StateDraft
	}
	if !lease.WorkflowState.Valid() {
		return nil, fmt.Errorf("unknown workflow state %q", lease.WorkflowState)
	}
	now := w.now()
	lease.DocumentVersion = 1
	lease.CreatedAt = now
	lease.UpdatedAt = now

	err := w.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.Leases().Create(ctx, lease); err != nil {
			return err
		}
		_, err := tx.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   lease.ID,
			Action:    domain.AuditActionLeaseCreated,
			NewState:  lease.WorkflowState,
			ActorID:   actor.ID,
			ActorRole: actorRole(actor),
			Detail:    map[string]any{"reference": lease.Reference},
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

// CanTransition reports whether target is a legal next state for the lease.
// Pure read; it never mutates anything.
func (w *LeaseWorkflow) CanTransition(ctx context.Context, leaseID string, target domain.WorkflowState) (bool, error) {
	lease, err := w.Store.Leases().GetByID(ctx, leaseID)
	if err != nil {
		return false, err
	}
	return lease.CanTransitionTo(target), nil
}

// Transition moves the lease along one edge of the graph. The state write
// and its audit entry commit together or not at all. A loser of a
// concurrent race receives ErrConflict (stale version) or
// ErrInvalidTransition (the winner's new state forbids the edge).
func (w *LeaseWorkflow) Transition(ctx context.Context, leaseID string, target domain.WorkflowState, actor domain.Actor, detail map[string]any) (*domain.Lease, error) {
	var updated *domain.Lease
	err := w.Store.WithTx(ctx, func(tx Store) error {
		lease, err := tx.Leases().GetForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		updated, err = w.transitionLocked(ctx, tx, lease, target, actor, detail)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// transitionLocked performs the validated state write and audit append.
// Callers must hold the lease row lock via tx.
func (w *LeaseWorkflow) transitionLocked(ctx context.Context, tx Store, lease *domain.Lease, target domain.WorkflowState, actor domain.Actor, detail map[string]any) (*domain.Lease, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidTransition, target)
	}
	if !lease.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, lease.WorkflowState, target)
	}
	now := w.now()
	updated, err := tx.Leases().UpdateState(ctx, lease.ID, lease.DocumentVersion, target, now)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["description"] = fmt.Sprintf("Transitioned from %s to %s", lease.WorkflowState, target)
	if _, err := tx.Audit().Append(ctx, domain.AuditEntry{
		LeaseID:   lease.ID,
		Action:    domain.AuditActionStateTransition,
		OldState:  lease.WorkflowState,
		NewState:  target,
		ActorID:   actor.ID,
		ActorRole: actorRole(actor),
		Detail:    detail,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// RequestApproval submits the lease for landlord review: one pending
// approval record plus the transition into pending_landlord_approval.
func (w *LeaseWorkflow) RequestApproval(ctx context.Context, leaseID string, actor domain.Actor) (*domain.Approval, error) {
	var approval domain.Approval
	err := w.Store.WithTx(ctx, func(tx Store) error {
		lease, err := tx.Leases().GetForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease.LandlordID == "" {
			return fmt.Errorf("%w: lease %s", domain.ErrNoLandlord, leaseID)
		}
		if _, err := tx.Approvals().GetPending(ctx, leaseID); err == nil {
			return fmt.Errorf("%w: lease %s", domain.ErrApprovalPending, leaseID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if _, err := w.transitionLocked(ctx, tx, lease, domain.StatePendingLandlordApproval, actor, nil); err != nil {
			return err
		}

		now := w.now()
		approval = domain.Approval{
			ID:          uuid.NewString(),
			LeaseID:     leaseID,
			LandlordID:  lease.LandlordID,
			Decision:    domain.ApprovalDecisionPending,
			RequestedAt: now,
			CreatedAt:   now,
		}
		if err := tx.Approvals().Create(ctx, approval); err != nil {
			return err
		}
		_, err = tx.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   leaseID,
			Action:    domain.AuditActionApprovalRequested,
			OldState:  lease.WorkflowState,
			NewState:  domain.StatePendingLandlordApproval,
			ActorID:   actor.ID,
			ActorRole: actorRole(actor),
			Detail:    map[string]any{"approval_id": approval.ID},
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &approval, nil
}

// Approve resolves the pending decision in favour of the lease and
// transitions it to approved.
func (w *LeaseWorkflow) Approve(ctx context.Context, leaseID string, actor domain.Actor, comments string) (*domain.Approval, error) {
	return w.resolveApproval(ctx, leaseID, actor, domain.ApprovalDecisionApproved, comments, "")
}

// Reject resolves the pending decision against the lease and transitions it
// to cancelled, recording the landlord's reason.
func (w *LeaseWorkflow) Reject(ctx context.Context, leaseID string, actor domain.Actor, reason string) (*domain.Approval, error) {
	if reason == "" {
		return nil, errors.New("rejection reason is required")
	}
	return w.resolveApproval(ctx, leaseID, actor, domain.ApprovalDecisionRejected, "", reason)
}

func (w *LeaseWorkflow) resolveApproval(ctx context.Context, leaseID string, actor domain.Actor, decision domain.ApprovalDecision, comments, reason string) (*domain.Approval, error) {
	var resolved *domain.Approval
	err := w.Store.WithTx(ctx, func(tx Store) error {
		lease, err := tx.Leases().GetForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		pending, err := tx.Approvals().GetPending(ctx, leaseID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: lease %s", domain.ErrNoPendingApproval, leaseID)
			}
			return err
		}

		target := domain.StateApproved
		action := domain.AuditActionApproved
		detail := map[string]any{"approval_id": pending.ID}
		if decision == domain.ApprovalDecisionRejected {
			target = domain.StateCancelled
			action = domain.AuditActionRejected
			detail["reason"] = reason
		} else if comments != "" {
			detail["comments"] = comments
		}

		if _, err := w.transitionLocked(ctx, tx, lease, target, actor, nil); err != nil {
			return err
		}

		now := w.now()
		resolved, err = tx.Approvals().Resolve(ctx, pending.ID, decision, actor.ID, comments, reason, now)
		if err != nil {
			return err
		}
		_, err = tx.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   leaseID,
			Action:    action,
			OldState:  lease.WorkflowState,
			NewState:  target,
			ActorID:   actor.ID,
			ActorRole: actorRole(actor),
			Detail:    detail,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

type SendForSigningResult struct {
	Lease         *domain.Lease
	Challenge     *domain.OTPChallenge
	LinkExpiresAt time.Time
	SentVia       NotifyMethod
}

// SendForSigning starts the remote signing flow: transitions the lease to
// sent_digital, dispatches an expiring signing link, issues the first OTP
// challenge and advances to pending_otp. A lease that already carries a
// signature is refused; re-signing requires an explicit supersede flow.
func (w *LeaseWorkflow) SendForSigning(ctx context.Context, leaseID string, method NotifyMethod, actor domain.Actor) (*SendForSigningResult, error) {
	if method == "" {
		method = NotifyBoth
	}

	var (
		lease     *domain.Lease
		token     string
		expiresAt time.Time
	)
	err := w.Store.WithTx(ctx, func(tx Store) error {
		locked, err := tx.Leases().GetForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		count, err := tx.Signatures().CountByLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: lease %s", domain.ErrAlreadySigned, leaseID)
		}

		lease, err = w.transitionLocked(ctx, tx, locked, domain.StateSentDigital, actor, nil)
		if err != nil {
			return err
		}

		token, expiresAt, err = w.Links.Issue(lease.ID, lease.TenantID, w.Config.SigningLinkExpiry)
		if err != nil {
			return err
		}
		_, err = tx.Audit().Append(ctx, domain.AuditEntry{
			LeaseID:   leaseID,
			Action:    domain.AuditActionSigningLinkSent,
			ActorID:   actor.ID,
			ActorRole: actorRole(actor),
			Detail: map[string]any{
				"method":     string(method),
				"expires_at": expiresAt.UTC().Format(time.RFC3339),
			},
			CreatedAt: w.now(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Dispatch is best-effort: the committed state change stands whether
	// or not the messages get through.
	w.dispatchSigningLink(ctx, lease, token, method)

	challenge, err := w.OTP.Issue(ctx, leaseID, lease.TenantPhone, domain.OTPPurposeDigitalSigning, actor)
	if err != nil {
		return nil, err
	}

	updated, err := w.Transition(ctx, leaseID, domain.StatePendingOTP, actor, nil)
	if err != nil {
		return nil, err
	}

	return &SendForSigningResult{
		Lease:         updated,
		Challenge:     challenge,
		LinkExpiresAt: expiresAt,
		SentVia:       method,
	}, nil
}

func (w *LeaseWorkflow) dispatchSigningLink(ctx context.Context, lease *domain.Lease, token string, method NotifyMethod) {
	link := w.Config.SigningBaseURL + "/sign/" + token
	if (method == NotifySMS || method == NotifyBoth) && lease.TenantPhone != "" {
		message := fmt.Sprintf("Lease %s is ready for signing: %s", lease.Reference, link)
		if err := w.Notifier.SendSMS(ctx, lease.TenantPhone, message); err != nil {
			log.Printf("signing link sms failed for lease %s: %v", lease.ID, err)
		}
	}
	if (method == NotifyEmail || method == NotifyBoth) && lease.TenantEmail != "" {
		subject := fmt.Sprintf("Lease %s ready for signature", lease.Reference)
		body := fmt.Sprintf("Your lease is ready for digital signing. Open %s to continue.", link)
		if err := w.Notifier.SendEmail(ctx, lease.TenantEmail, subject, body); err != nil {
			log.Printf("signing link email failed for lease %s: %v", lease.ID, err)
		}
	}
}

// RequestOTP issues (or reissues) a signing challenge for a lease already
// in the digital flow, advancing sent_digital to pending_otp when needed.
func (w *LeaseWorkflow) RequestOTP(ctx context.Context, leaseID, phone string, actor domain.Actor) (*domain.OTPChallenge, error) {
	lease, err := w.Store.Leases().GetByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	switch lease.WorkflowState {
	case domain.StateSentDigital, domain.StatePendingOTP:
	default:
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, lease.WorkflowState, domain.StatePendingOTP)
	}
	if phone == "" {
		phone = lease.TenantPhone
	}

	challenge, err := w.OTP.Issue(ctx, leaseID, phone, domain.OTPPurposeDigitalSigning, actor)
	if err != nil {
		return nil, err
	}
	if lease.WorkflowState == domain.StateSentDigital {
		if _, err := w.Transition(ctx, leaseID, domain.StatePendingOTP, actor, nil); err != nil {
			return nil, err
		}
	}
	return challenge, nil
}

// CaptureSignature records the tenant's signing evidence and transitions
// the lease to tenant_signed in one transaction. Capture is refused without
// a verified, still-valid challenge, and a lease signs at most once.
func (w *LeaseWorkflow) CaptureSignature(ctx context.Context, leaseID string, input CaptureInput, actor domain.Actor) (*domain.SignatureRecord, error) {
	var record *domain.SignatureRecord
	err := w.Store.WithTx(ctx, func(tx Store) error {
		lease, err := tx.Leases().GetForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		record, err = w.Signatures.CaptureIn(ctx, tx, leaseID, input)
		if err != nil {
			return err
		}
		_, err = w.transitionLocked(ctx, tx, lease, domain.StateTenantSigned, actor, map[string]any{
			"signature_id": record.ID,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) || errors.Is(err, domain.ErrAlreadySigned) {
			if _, auditErr := w.Store.Audit().Append(ctx, domain.AuditEntry{
				LeaseID:   leaseID,
				Action:    domain.AuditActionSignatureRejected,
				ActorRole: "tenant",
				ClientIP:  input.ClientIP,
				Detail:    map[string]any{"reason": err.Error()},
				CreatedAt: w.now(),
			}); auditErr != nil {
				log.Printf("audit signature rejection for lease %s: %v", leaseID, auditErr)
			}
		}
		return nil, err
	}
	return record, nil
}

// SigningStatus is the caller-facing snapshot of where a lease stands in
// the remote signing flow.
type SigningStatus struct {
	WorkflowState  domain.WorkflowState
	HasSignature   bool
	HasVerifiedOTP bool
	CanSign        bool
	OTPAttempts    int
	OTPExpiresAt   *time.Time
}

func (w *LeaseWorkflow) SigningStatus(ctx context.Context, leaseID string) (*SigningStatus, error) {
	lease, err := w.Store.Leases().GetByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	count, err := w.Store.Signatures().CountByLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	status := &SigningStatus{
		WorkflowState: lease.WorkflowState,
		HasSignature:  count > 0,
	}
	if verified, err := w.OTP.VerifiedChallenge(ctx, leaseID); err == nil && verified != nil {
		status.HasVerifiedOTP = true
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	status.CanSign = status.HasVerifiedOTP && !status.HasSignature
	if latest, err := w.Store.Challenges().GetLatest(ctx, leaseID); err == nil {
		status.OTPAttempts = latest.Attempts
		expires := latest.ExpiresAt
		status.OTPExpiresAt = &expires
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return status, nil
}

// History returns the lease's audit trail in chain order.
func (w *LeaseWorkflow) History(ctx context.Context, leaseID string) ([]domain.AuditEntry, error) {
	return w.Store.Audit().History(ctx, leaseID)
}
