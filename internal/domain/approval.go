package domain

import "time"

type ApprovalDecision string

const (
	ApprovalDecisionPending  ApprovalDecision = "pending"
	ApprovalDecisionApproved ApprovalDecision = "approved"
	ApprovalDecisionRejected ApprovalDecision = "rejected"
)

// Approval is a landlord decision record for a lease. One pending approval
// exists at a time; resolving it records the reviewer and outcome.
type Approval struct {
	ID              string
	LeaseID         string
	LandlordID      string
	Decision        ApprovalDecision
	Comments        string
	RejectionReason string
	ReviewedBy      string
	RequestedAt     time.Time
	ReviewedAt      *time.Time
	CreatedAt       time.Time
}

func (a Approval) IsPending() bool {
	return a.Decision == ApprovalDecisionPending
}
