package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"leasecore/internal/domain"
)

func newWorkflowFixture(t *testing.T) (*LeaseWorkflow, *fakeStore, *fakeNotifier, *time.Time) {
	t.Helper()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time { return *clock }

	otp := NewOTPService(store, allowAllLimiter(), notifier, DefaultOTPConfig())
	otp.Now = tick
	signatures := NewSignatureService(store, otp)
	signatures.Now = tick
	workflow := NewLeaseWorkflow(store, otp, signatures, &fakeLinkIssuer{}, notifier, WorkflowConfig{
		SigningLinkExpiry: 72 * time.Hour,
		SigningBaseURL:    "https://leases.example.com",
	})
	workflow.Now = tick
	return workflow, store, notifier, clock
}

func mustCreateLease(t *testing.T, workflow *LeaseWorkflow, state domain.WorkflowState) *domain.Lease {
	t.Helper()
	lease, err := workflow.CreateLease(context.Background(), domain.Lease{
		Reference:     "LSE-2026-042",
		LandlordID:    "landlord-1",
		TenantID:      "tenant-1",
		TenantPhone:   "+254712345678",
		TenantEmail:   "tenant@example.com",
		WorkflowState: state,
	}, domain.Actor{ID: "admin-1", Role: "admin"})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}
	return lease
}

func TestCreateLeaseDefaultsToDraft(t *testing.T) {
	workflow, store, _, _ := newWorkflowFixture(t)

	lease, err := workflow.CreateLease(context.Background(), domain.Lease{Reference: "LSE-1"}, domain.SystemActor())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lease.WorkflowState != domain.StateDraft {
		t.Fatalf("new lease must start in draft, got %s", lease.WorkflowState)
	}
	if lease.DocumentVersion != 1 {
		t.Fatalf("new lease must start at version 1, got %d", lease.DocumentVersion)
	}

	entries, _ := store.Audit().History(context.Background(), lease.ID)
	if len(entries) != 1 || entries[0].Action != domain.AuditActionLeaseCreated {
		t.Fatalf("expected a single lease_created entry, got %v", entries)
	}
}

func TestTransitionValidEdge(t *testing.T) {
	workflow, store, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)
	ctx := context.Background()

	updated, err := workflow.Transition(ctx, lease.ID, domain.StateApproved, domain.Actor{ID: "admin-1", Role: "admin"}, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.WorkflowState != domain.StateApproved {
		t.Fatalf("expected approved, got %s", updated.WorkflowState)
	}
	if updated.DocumentVersion != lease.DocumentVersion+1 {
		t.Fatalf("transition must bump the version, got %d", updated.DocumentVersion)
	}

	entries, _ := store.Audit().History(ctx, lease.ID)
	last := entries[len(entries)-1]
	if last.Action != domain.AuditActionStateTransition {
		t.Fatalf("expected state_transition entry, got %s", last.Action)
	}
	if last.OldState != domain.StateDraft || last.NewState != domain.StateApproved {
		t.Fatalf("entry must record the edge, got %s -> %s", last.OldState, last.NewState)
	}
	description, _ := last.Detail["description"].(string)
	if !strings.Contains(description, "draft") || !strings.Contains(description, "approved") {
		t.Fatalf("description must name both states, got %q", description)
	}
}

func TestTransitionInvalidEdgeRejected(t *testing.T) {
	workflow, store, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)
	ctx := context.Background()

	_, err := workflow.Transition(ctx, lease.ID, domain.StateTenantSigned, domain.SystemActor(), nil)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	stored, _ := store.Leases().GetByID(ctx, lease.ID)
	if stored.WorkflowState != domain.StateDraft || stored.DocumentVersion != 1 {
		t.Fatal("rejected transition must leave the lease untouched")
	}
	entries, _ := store.Audit().History(ctx, lease.ID)
	for _, entry := range entries {
		if entry.Action == domain.AuditActionStateTransition {
			t.Fatal("rejected transition must not append a transition entry")
		}
	}
}

func TestTransitionUnknownStateRejected(t *testing.T) {
	workflow, _, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)

	_, err := workflow.Transition(context.Background(), lease.ID, domain.WorkflowState("notarized"), domain.SystemActor(), nil)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConcurrentTransitionSingleWinner(t *testing.T) {
	workflow, store, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)
	ctx := context.Background()

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = workflow.Transition(ctx, lease.ID, domain.StateApproved, domain.SystemActor(), nil)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrConflict):
			losses++
		default:
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner, got %d wins %d losses", wins, losses)
	}

	stored, _ := store.Leases().GetByID(ctx, lease.ID)
	if stored.DocumentVersion != 2 {
		t.Fatalf("exactly one version bump expected, got %d", stored.DocumentVersion)
	}
	var transitions int
	entries, _ := store.Audit().History(ctx, lease.ID)
	for _, entry := range entries {
		if entry.Action == domain.AuditActionStateTransition {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("exactly one transition entry expected, got %d", transitions)
	}
}

func TestApprovalFlow(t *testing.T) {
	workflow, store, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)
	ctx := context.Background()

	approval, err := workflow.RequestApproval(ctx, lease.ID, domain.Actor{ID: "agent-1", Role: "agent"})
	if err != nil {
		t.Fatalf("request approval: %v", err)
	}
	if !approval.IsPending() {
		t.Fatal("new approval must be pending")
	}
	stored, _ := store.Leases().GetByID(ctx, lease.ID)
	if stored.WorkflowState != domain.StatePendingLandlordApproval {
		t.Fatalf("expected pending_landlord_approval, got %s", stored.WorkflowState)
	}

	if _, err := workflow.RequestApproval(ctx, lease.ID, domain.SystemActor()); !errors.Is(err, domain.ErrApprovalPending) {
		t.Fatalf("second request must fail with ErrApprovalPending, got %v", err)
	}

	resolved, err := workflow.Approve(ctx, lease.ID, domain.Actor{ID: "landlord-1", Role: "landlord"}, "looks fine")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resolved.Decision != domain.ApprovalDecisionApproved || resolved.ReviewedBy != "landlord-1" {
		t.Fatalf("resolution not recorded: %+v", resolved)
	}
	stored, _ = store.Leases().GetByID(ctx, lease.ID)
	if stored.WorkflowState != domain.StateApproved {
		t.Fatalf("expected approved, got %s", stored.WorkflowState)
	}
}

func TestRejectCancelsLease(t *testing.T) {
	workflow, store, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)
	ctx := context.Background()

	if _, err := workflow.RequestApproval(ctx, lease.ID, domain.SystemActor()); err != nil {
		t.Fatalf("request approval: %v", err)
	}
	resolved, err := workflow.Reject(ctx, lease.ID, domain.Actor{ID: "landlord-1", Role: "landlord"}, "rent below market")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if resolved.RejectionReason != "rent below market" {
		t.Fatalf("reason not recorded: %+v", resolved)
	}
	stored, _ := store.Leases().GetByID(ctx, lease.ID)
	if stored.WorkflowState != domain.StateCancelled {
		t.Fatalf("rejected lease must be cancelled, got %s", stored.WorkflowState)
	}

	entries, _ := store.Audit().History(ctx, lease.ID)
	last := entries[len(entries)-1]
	if last.Action != domain.AuditActionRejected {
		t.Fatalf("expected rejected entry, got %s", last.Action)
	}
}

func TestRequestApprovalWithoutLandlord(t *testing.T) {
	workflow, _, _, _ := newWorkflowFixture(t)
	lease, err := workflow.CreateLease(context.Background(), domain.Lease{Reference: "LSE-2"}, domain.SystemActor())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = workflow.RequestApproval(context.Background(), lease.ID, domain.SystemActor())
	if !errors.Is(err, domain.ErrNoLandlord) {
		t.Fatalf("expected ErrNoLandlord, got %v", err)
	}
}

func TestApproveWithoutPendingApproval(t *testing.T) {
	workflow, _, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)

	_, err := workflow.Approve(context.Background(), lease.ID, domain.SystemActor(), "")
	if !errors.Is(err, domain.ErrNoPendingApproval) {
		t.Fatalf("expected ErrNoPendingApproval, got %v", err)
	}
}

func TestSendForSigning(t *testing.T) {
	workflow, store, notifier, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateApproved)
	ctx := context.Background()

	result, err := workflow.SendForSigning(ctx, lease.ID, NotifyBoth, domain.Actor{ID: "agent-1", Role: "agent"})
	if err != nil {
		t.Fatalf("send for signing: %v", err)
	}
	if result.Lease.WorkflowState != domain.StatePendingOTP {
		t.Fatalf("expected pending_otp, got %s", result.Lease.WorkflowState)
	}
	if result.Challenge == nil {
		t.Fatal("send must issue the first challenge")
	}

	var linkSent, codeSent bool
	for _, message := range notifier.sms {
		if strings.Contains(message, "link-token") {
			linkSent = true
		}
		if codePattern.MatchString(message) {
			codeSent = true
		}
	}
	if !linkSent || !codeSent {
		t.Fatalf("expected signing link and otp sms, got %v", notifier.sms)
	}
	if len(notifier.emails) != 1 {
		t.Fatalf("expected signing link email, got %v", notifier.emails)
	}

	var sawLink, sawIssued bool
	entries, _ := store.Audit().History(ctx, lease.ID)
	for _, entry := range entries {
		switch entry.Action {
		case domain.AuditActionSigningLinkSent:
			sawLink = true
		case domain.AuditActionOTPIssued:
			sawIssued = true
		}
	}
	if !sawLink || !sawIssued {
		t.Fatal("audit must record signing_link_sent and otp_issued")
	}
}

func TestSendForSigningRefusedWhenSigned(t *testing.T) {
	workflow, store, _, clock := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateApproved)

	record := domain.SignatureRecord{ID: "sig-1", LeaseID: lease.ID, Payload: []byte("x"), IntegrityHash: "h", SignedAt: *clock}
	if err := store.Signatures().Create(context.Background(), record); err != nil {
		t.Fatalf("seed signature: %v", err)
	}

	_, err := workflow.SendForSigning(context.Background(), lease.ID, NotifySMS, domain.SystemActor())
	if !errors.Is(err, domain.ErrAlreadySigned) {
		t.Fatalf("expected ErrAlreadySigned, got %v", err)
	}
}

func TestRequestOTPOutsideDigitalFlow(t *testing.T) {
	workflow, _, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateDraft)

	_, err := workflow.RequestOTP(context.Background(), lease.ID, "", domain.SystemActor())
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestFullRemoteSigningFlow(t *testing.T) {
	workflow, store, notifier, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateApproved)
	ctx := context.Background()

	if _, err := workflow.SendForSigning(ctx, lease.ID, NotifySMS, domain.SystemActor()); err != nil {
		t.Fatalf("send for signing: %v", err)
	}
	code := codeFromSMS(t, notifier.lastSMS())
	if err := workflow.OTP.Verify(ctx, lease.ID, code, "10.0.0.1"); err != nil {
		t.Fatalf("verify otp: %v", err)
	}

	record, err := workflow.CaptureSignature(ctx, lease.ID, CaptureInput{
		Payload:  []byte("tenant strokes"),
		Method:   domain.SignatureMethodCanvas,
		ClientIP: "10.0.0.1",
	}, domain.Actor{ID: "tenant-1", Role: "tenant"})
	if err != nil {
		t.Fatalf("capture signature: %v", err)
	}
	if record.LeaseID != lease.ID {
		t.Fatalf("record bound to wrong lease: %s", record.LeaseID)
	}

	stored, _ := store.Leases().GetByID(ctx, lease.ID)
	if stored.WorkflowState != domain.StateTenantSigned {
		t.Fatalf("expected tenant_signed, got %s", stored.WorkflowState)
	}

	// The trail must show the flow in order and remain an intact chain.
	var order []domain.AuditAction
	entries, _ := store.Audit().History(ctx, lease.ID)
	for _, entry := range entries {
		switch entry.Action {
		case domain.AuditActionOTPIssued, domain.AuditActionOTPVerified,
			domain.AuditActionSignatureCaptured:
			order = append(order, entry.Action)
		}
	}
	want := []domain.AuditAction{
		domain.AuditActionOTPIssued,
		domain.AuditActionOTPVerified,
		domain.AuditActionSignatureCaptured,
	}
	if len(order) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, order)
		}
	}
	if err := VerifyLeaseAuditChain(ctx, store.Audit(), lease.ID); err != nil {
		t.Fatalf("audit chain must remain intact: %v", err)
	}

	status, err := workflow.SigningStatus(ctx, lease.ID)
	if err != nil {
		t.Fatalf("signing status: %v", err)
	}
	if !status.HasSignature || status.CanSign {
		t.Fatalf("signed lease must report HasSignature and not CanSign: %+v", status)
	}
}

func TestCaptureWithoutVerificationAuditsRejection(t *testing.T) {
	workflow, store, _, _ := newWorkflowFixture(t)
	lease := mustCreateLease(t, workflow, domain.StateApproved)
	ctx := context.Background()

	if _, err := workflow.SendForSigning(ctx, lease.ID, NotifySMS, domain.SystemActor()); err != nil {
		t.Fatalf("send for signing: %v", err)
	}

	_, err := workflow.CaptureSignature(ctx, lease.ID, CaptureInput{
		Payload: []byte("strokes"),
		Method:  domain.SignatureMethodCanvas,
	}, domain.Actor{Role: "tenant"})
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	stored, _ := store.Leases().GetByID(ctx, lease.ID)
	if stored.WorkflowState != domain.StatePendingOTP {
		t.Fatalf("refused capture must not move the lease, got %s", stored.WorkflowState)
	}
	entries, _ := store.Audit().History(ctx, lease.ID)
	last := entries[len(entries)-1]
	if last.Action != domain.AuditActionSignatureRejected {
		t.Fatalf("expected signature_rejected entry, got %s", last.Action)
	}
}
