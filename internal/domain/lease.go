package domain

import "time"

type WorkflowState string

const (
	StateDraft                   WorkflowState = "draft"
	StateReceived                WorkflowState = "received"
	StatePendingLandlordApproval WorkflowState = "pending_landlord_approval"
	StateApproved                WorkflowState = "approved"
	StatePrinted                 WorkflowState = "printed"
	StateCheckedOut              WorkflowState = "checked_out"
	StateSentDigital             WorkflowState = "sent_digital"
	StatePendingOTP              WorkflowState = "pending_otp"
	StatePendingTenantSignature  WorkflowState = "pending_tenant_signature"
	StateReturnedUnsigned        WorkflowState = "returned_unsigned"
	StateTenantSigned            WorkflowState = "tenant_signed"
	StateWithLawyer              WorkflowState = "with_lawyer"
	StatePendingUpload           WorkflowState = "pending_upload"
	StatePendingDeposit          WorkflowState = "pending_deposit"
	StateActive                  WorkflowState = "active"
	StateRenewalOffered          WorkflowState = "renewal_offered"
	StateRenewalAccepted         WorkflowState = "renewal_accepted"
	StateRenewalDeclined         WorkflowState = "renewal_declined"
	StateExpired                 WorkflowState = "expired"
	StateTerminated              WorkflowState = "terminated"
	StateCancelled               WorkflowState = "cancelled"
	StateDisputed                WorkflowState = "disputed"
	StateArchived                WorkflowState = "archived"
)

// Transitions is the closed adjacency table for the lease lifecycle.
// Every state write in the system must follow one of these edges; tests
// validate the table exhaustively.
var Transitions = map[WorkflowState][]WorkflowState{
	StateDraft:                   {StatePendingLandlordApproval, StateApproved, StateCancelled},
	StateReceived:                {StatePendingLandlordApproval, StateApproved, StateCancelled},
	StatePendingLandlordApproval: {StateApproved, StateCancelled, StateDraft},
	StateApproved:                {StatePrinted, StateSentDigital, StateCancelled},
	StatePrinted:                 {StateCheckedOut, StateCancelled},
	StateCheckedOut:              {StatePendingTenantSignature, StateReturnedUnsigned},
	StateSentDigital:             {StatePendingOTP, StateDisputed, StateCancelled},
	StatePendingOTP:              {StateTenantSigned, StateDisputed, StateSentDigital},
	StatePendingTenantSignature:  {StateTenantSigned, StateDisputed, StateReturnedUnsigned},
	StateReturnedUnsigned:        {StateCheckedOut, StateCancelled},
	StateTenantSigned:            {StateWithLawyer, StatePendingUpload, StatePendingDeposit},
	StateWithLawyer:              {StatePendingUpload, StatePendingDeposit},
	StatePendingUpload:           {StatePendingDeposit},
	StatePendingDeposit:          {StateActive},
	StateActive:                  {StateRenewalOffered, StateExpired, StateTerminated},
	StateRenewalOffered:          {StateRenewalAccepted, StateRenewalDeclined, StateExpired},
	StateRenewalAccepted:         {StateActive},
	StateRenewalDeclined:         {StateExpired},
	StateExpired:                 {StateArchived},
	StateTerminated:              {StateArchived},
	StateCancelled:               {StateArchived},
	StateDisputed:                {StateSentDigital, StateCancelled},
	StateArchived:                {},
}

// AllStates returns every state in the table in a stable order.
func AllStates() []WorkflowState {
	return []WorkflowState{
		StateDraft, StateReceived, StatePendingLandlordApproval, StateApproved,
		StatePrinted, StateCheckedOut, StateSentDigital, StatePendingOTP,
		StatePendingTenantSignature, StateReturnedUnsigned, StateTenantSigned,
		StateWithLawyer, StatePendingUpload, StatePendingDeposit, StateActive,
		StateRenewalOffered, StateRenewalAccepted, StateRenewalDeclined,
		StateExpired, StateTerminated, StateCancelled, StateDisputed,
		StateArchived,
	}
}

func (s WorkflowState) Valid() bool {
	_, ok := Transitions[s]
	return ok
}

func (s WorkflowState) CanTransitionTo(next WorkflowState) bool {
	for _, candidate := range Transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s WorkflowState) ValidNextStates() []WorkflowState {
	next := Transitions[s]
	out := make([]WorkflowState, len(next))
	copy(out, next)
	return out
}

func (s WorkflowState) IsTerminal() bool {
	switch s {
	case StateExpired, StateTerminated, StateCancelled, StateArchived:
		return true
	default:
		return false
	}
}

func (s WorkflowState) RequiresTenantAction() bool {
	switch s {
	case StatePendingOTP, StatePendingTenantSignature, StatePendingDeposit:
		return true
	default:
		return false
	}
}

type Lease struct {
	ID              string
	Reference       string
	LandlordID      string
	TenantID        string
	TenantPhone     string
	TenantEmail     string
	WorkflowState   WorkflowState
	DocumentVersion int64
	DocumentRef     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (l Lease) CanTransitionTo(next WorkflowState) bool {
	return l.WorkflowState.CanTransitionTo(next)
}
