package domain

import "time"

type AuditAction string

const (
	AuditActionLeaseCreated      AuditAction = "lease_created"
	AuditActionStateTransition   AuditAction = "state_transition"
	AuditActionApprovalRequested AuditAction = "approval_requested"
	AuditActionApproved          AuditAction = "approved"
	AuditActionRejected          AuditAction = "rejected"
	AuditActionSigningLinkSent   AuditAction = "signing_link_sent"
	AuditActionOTPIssued         AuditAction = "otp_issued"
	AuditActionOTPVerified       AuditAction = "otp_verified"
	AuditActionOTPFailed         AuditAction = "otp_failed"
	AuditActionOTPExpired        AuditAction = "otp_expired"
	AuditActionOTPRateLimited    AuditAction = "otp_rate_limited"
	AuditActionOTPSendFailed     AuditAction = "otp_send_failed"
	AuditActionSignatureCaptured AuditAction = "signature_captured"
	AuditActionSignatureRejected AuditAction = "signature_rejected"
)

// AuditChainVersion is folded into every entry hash so the chain format can
// evolve without silently validating across versions.
const AuditChainVersion = 1

// Actor identifies who performed an operation. It is always passed
// explicitly; the core never reads identity from ambient state.
type Actor struct {
	ID   string
	Role string
}

func SystemActor() Actor {
	return Actor{Role: "system"}
}

func (a Actor) IsSystem() bool {
	return a.ID == ""
}

// AuditEntry is one immutable event in a lease's history. Entries form a
// per-lease hash chain: Seq increments by one, PrevEntryHash links to the
// previous entry and EntryHash covers this entry's own content.
type AuditEntry struct {
	ID            string
	LeaseID       string
	Seq           int64
	Action        AuditAction
	OldState      WorkflowState
	NewState      WorkflowState
	ActorID       string
	ActorRole     string
	ClientIP      string
	Detail        map[string]any
	PayloadHash   string
	PrevEntryHash string
	EntryHash     string
	CreatedAt     time.Time
}
