package http

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"leasecore/internal/domain"
	"leasecore/internal/infra/signlink"
	"leasecore/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type leaseRequest struct {
	Reference   string `json:"reference"`
	LandlordID  string `json:"landlord_id"`
	TenantID    string `json:"tenant_id"`
	TenantPhone string `json:"tenant_phone"`
	TenantEmail string `json:"tenant_email"`
	DocumentRef string `json:"document_ref"`
}

type leaseResponse struct {
	LeaseID         string `json:"lease_id"`
	Reference       string `json:"reference"`
	LandlordID      string `json:"landlord_id,omitempty"`
	TenantID        string `json:"tenant_id,omitempty"`
	WorkflowState   string `json:"workflow_state"`
	DocumentVersion int64  `json:"document_version"`
	DocumentRef     string `json:"document_ref,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type transitionRequest struct {
	Target string         `json:"target"`
	Detail map[string]any `json:"detail,omitempty"`
}

type approvalResponse struct {
	ApprovalID string `json:"approval_id"`
	LeaseID    string `json:"lease_id"`
	Decision   string `json:"decision"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
	ReviewedAt string `json:"reviewed_at,omitempty"`
}

type sendRequest struct {
	Method string `json:"method,omitempty"`
}

type sendResponse struct {
	LeaseID       string `json:"lease_id"`
	WorkflowState string `json:"workflow_state"`
	ChallengeID   string `json:"challenge_id"`
	OTPExpiresAt  string `json:"otp_expires_at"`
	LinkExpiresAt string `json:"link_expires_at"`
	SentVia       string `json:"sent_via"`
}

type challengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	LeaseID     string `json:"lease_id"`
	SentAt      string `json:"sent_at"`
	ExpiresAt   string `json:"expires_at"`
	Attempts    int    `json:"attempts"`
}

type verifyOTPRequest struct {
	Code string `json:"code"`
}

type captureRequest struct {
	PayloadBase64 string   `json:"payload_base64"`
	Method        string   `json:"method"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

type signatureResponse struct {
	SignatureID   string `json:"signature_id"`
	LeaseID       string `json:"lease_id"`
	Method        string `json:"method"`
	IntegrityHash string `json:"integrity_hash"`
	SignedAt      string `json:"signed_at"`
}

type statusResponse struct {
	WorkflowState  string  `json:"workflow_state"`
	HasSignature   bool    `json:"has_signature"`
	HasVerifiedOTP bool    `json:"has_verified_otp"`
	CanSign        bool    `json:"can_sign"`
	OTPAttempts    int     `json:"otp_attempts"`
	OTPExpiresAt   *string `json:"otp_expires_at,omitempty"`
}

type auditEntryResponse struct {
	Seq           int64          `json:"seq"`
	Action        string         `json:"action"`
	OldState      string         `json:"old_state,omitempty"`
	NewState      string         `json:"new_state,omitempty"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorRole     string         `json:"actor_role,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	PayloadHash   string         `json:"payload_hash"`
	PrevEntryHash string         `json:"prev_entry_hash"`
	EntryHash     string         `json:"entry_hash"`
	CreatedAt     string         `json:"created_at"`
}

func (s *Server) handleCreateLease(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req leaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Reference == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_LEASE", "reference is required")
		return
	}
	lease, err := s.workflow.CreateLease(c.Request.Context(), domain.Lease{
		Reference:   req.Reference,
		LandlordID:  req.LandlordID,
		TenantID:    req.TenantID,
		TenantPhone: req.TenantPhone,
		TenantEmail: req.TenantEmail,
		DocumentRef: req.DocumentRef,
	}, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, leaseToResponse(lease))
}

func (s *Server) handleGetLease(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	lease, err := s.workflow.Store.Leases().GetByID(c.Request.Context(), c.Param("lease_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, leaseToResponse(lease))
}

func (s *Server) handleListTransitions(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	lease, err := s.workflow.Store.Leases().GetByID(c.Request.Context(), c.Param("lease_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	next := lease.WorkflowState.ValidNextStates()
	states := make([]string, 0, len(next))
	for _, state := range next {
		states = append(states, string(state))
	}
	c.JSON(http.StatusOK, gin.H{
		"workflow_state": string(lease.WorkflowState),
		"valid_next":     states,
		"terminal":       lease.WorkflowState.IsTerminal(),
	})
}

func (s *Server) handleTransition(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	target := domain.WorkflowState(req.Target)
	if !target.Valid() {
		writeErrorCode(c, http.StatusBadRequest, "UNKNOWN_STATE", "unknown target state")
		return
	}
	lease, err := s.workflow.Transition(c.Request.Context(), c.Param("lease_id"), target, actorFrom(c), req.Detail)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, leaseToResponse(lease))
}

func (s *Server) handleRequestApproval(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	approval, err := s.workflow.RequestApproval(c.Request.Context(), c.Param("lease_id"), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, approvalToResponse(approval))
}

func (s *Server) handleApprove(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req struct {
		Comments string `json:"comments,omitempty"`
	}
	_ = c.ShouldBindJSON(&req)
	approval, err := s.workflow.Approve(c.Request.Context(), c.Param("lease_id"), actorFrom(c), req.Comments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, approvalToResponse(approval))
}

func (s *Server) handleReject(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Reason == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REJECTION", "reason is required")
		return
	}
	approval, err := s.workflow.Reject(c.Request.Context(), c.Param("lease_id"), actorFrom(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, approvalToResponse(approval))
}

func (s *Server) handleSendForSigning(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req sendRequest
	_ = c.ShouldBindJSON(&req)
	result, err := s.workflow.SendForSigning(c.Request.Context(), c.Param("lease_id"), usecase.NotifyMethod(req.Method), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sendResponse{
		LeaseID:       result.Lease.ID,
		WorkflowState: string(result.Lease.WorkflowState),
		ChallengeID:   result.Challenge.ID,
		OTPExpiresAt:  result.Challenge.ExpiresAt.UTC().Format(time.RFC3339),
		LinkExpiresAt: result.LinkExpiresAt.UTC().Format(time.RFC3339),
		SentVia:       string(result.SentVia),
	})
}

func (s *Server) handleSigningStatus(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	s.writeSigningStatus(c, c.Param("lease_id"))
}

func (s *Server) handleHistory(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	entries, err := s.workflow.History(c.Request.Context(), c.Param("lease_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, auditEntryResponse{
			Seq:           entry.Seq,
			Action:        string(entry.Action),
			OldState:      string(entry.OldState),
			NewState:      string(entry.NewState),
			ActorID:       entry.ActorID,
			ActorRole:     entry.ActorRole,
			Detail:        entry.Detail,
			PayloadHash:   entry.PayloadHash,
			PrevEntryHash: entry.PrevEntryHash,
			EntryHash:     entry.EntryHash,
			CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (s *Server) handleVerifyAuditChain(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	leaseID := c.Param("lease_id")
	if err := usecase.VerifyLeaseAuditChain(c.Request.Context(), s.workflow.Store.Audit(), leaseID); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"lease_id": leaseID,
			"intact":   false,
			"reason":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lease_id": leaseID, "intact": true})
}

func (s *Server) handleTenantStatus(c *gin.Context) {
	claims, ok := s.requireLinkToken(c)
	if !ok {
		return
	}
	s.writeSigningStatus(c, claims.LeaseID)
}

func (s *Server) handleTenantRequestOTP(c *gin.Context) {
	claims, ok := s.requireLinkToken(c)
	if !ok {
		return
	}
	lease, err := s.workflow.Store.Leases().GetByID(c.Request.Context(), claims.LeaseID)
	if err != nil {
		writeError(c, err)
		return
	}
	actor := domain.Actor{ID: claims.Subject, Role: "tenant"}
	challenge, err := s.workflow.RequestOTP(c.Request.Context(), claims.LeaseID, lease.TenantPhone, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeResponse{
		ChallengeID: challenge.ID,
		LeaseID:     challenge.LeaseID,
		SentAt:      challenge.SentAt.UTC().Format(time.RFC3339),
		ExpiresAt:   challenge.ExpiresAt.UTC().Format(time.RFC3339),
		Attempts:    challenge.Attempts,
	})
}

func (s *Server) handleTenantVerifyOTP(c *gin.Context) {
	claims, ok := s.requireLinkToken(c)
	if !ok {
		return
	}
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "code is required")
		return
	}
	if err := s.otp.Verify(c.Request.Context(), claims.LeaseID, req.Code, c.ClientIP()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (s *Server) handleTenantCapture(c *gin.Context) {
	claims, ok := s.requireLinkToken(c)
	if !ok {
		return
	}
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
	if err != nil || len(payload) == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_PAYLOAD", "payload_base64 must be non-empty base64")
		return
	}
	input := usecase.CaptureInput{
		Payload:   payload,
		Method:    domain.SignatureMethod(req.Method),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if req.Latitude != nil && req.Longitude != nil {
		input.Location = &domain.Geolocation{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}
	actor := domain.Actor{ID: claims.Subject, Role: "tenant"}
	record, err := s.workflow.CaptureSignature(c.Request.Context(), claims.LeaseID, input, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, signatureResponse{
		SignatureID:   record.ID,
		LeaseID:       record.LeaseID,
		Method:        string(record.Method),
		IntegrityHash: record.IntegrityHash,
		SignedAt:      record.SignedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeSigningStatus(c *gin.Context, leaseID string) {
	status, err := s.workflow.SigningStatus(c.Request.Context(), leaseID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := statusResponse{
		WorkflowState:  string(status.WorkflowState),
		HasSignature:   status.HasSignature,
		HasVerifiedOTP: status.HasVerifiedOTP,
		CanSign:        status.CanSign,
		OTPAttempts:    status.OTPAttempts,
	}
	if status.OTPExpiresAt != nil {
		formatted := status.OTPExpiresAt.UTC().Format(time.RFC3339)
		resp.OTPExpiresAt = &formatted
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

func (s *Server) requireLinkToken(c *gin.Context) (*signlink.Claims, bool) {
	if s.links == nil {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "signing links not configured")
		return nil, false
	}
	claims, err := s.links.Verify(c.Param("token"))
	if err != nil {
		writeErrorCode(c, http.StatusUnauthorized, "LINK_INVALID", "signing link is invalid or expired")
		return nil, false
	}
	return claims, true
}

func actorFrom(c *gin.Context) domain.Actor {
	actor := domain.Actor{
		ID:   c.GetHeader("X-Actor-Id"),
		Role: c.GetHeader("X-Actor-Role"),
	}
	if actor.Role == "" {
		actor.Role = "admin"
	}
	return actor
}

func leaseToResponse(lease *domain.Lease) leaseResponse {
	return leaseResponse{
		LeaseID:         lease.ID,
		Reference:       lease.Reference,
		LandlordID:      lease.LandlordID,
		TenantID:        lease.TenantID,
		WorkflowState:   string(lease.WorkflowState),
		DocumentVersion: lease.DocumentVersion,
		DocumentRef:     lease.DocumentRef,
		CreatedAt:       lease.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       lease.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func approvalToResponse(approval *domain.Approval) approvalResponse {
	resp := approvalResponse{
		ApprovalID: approval.ID,
		LeaseID:    approval.LeaseID,
		Decision:   string(approval.Decision),
		ReviewedBy: approval.ReviewedBy,
	}
	if approval.ReviewedAt != nil {
		resp.ReviewedAt = approval.ReviewedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrOTPExpired):
		status, code = http.StatusGone, "OTP_EXPIRED"
	case errors.Is(err, domain.ErrOTPExhausted):
		status, code = http.StatusTooManyRequests, "OTP_EXHAUSTED"
	case errors.Is(err, domain.ErrOTPMismatch):
		status, code = http.StatusBadRequest, "OTP_MISMATCH"
	case errors.Is(err, domain.ErrNotAuthorized):
		status, code = http.StatusForbidden, "NOT_AUTHORIZED"
	case errors.Is(err, domain.ErrAlreadySigned):
		status, code = http.StatusConflict, "ALREADY_SIGNED"
	case errors.Is(err, domain.ErrIntegrityViolation):
		status, code = http.StatusConflict, "INTEGRITY_VIOLATION"
	case errors.Is(err, domain.ErrApprovalPending):
		status, code = http.StatusConflict, "APPROVAL_PENDING"
	case errors.Is(err, domain.ErrNoPendingApproval):
		status, code = http.StatusConflict, "NO_PENDING_APPROVAL"
	case errors.Is(err, domain.ErrNoLandlord):
		status, code = http.StatusBadRequest, "NO_LANDLORD"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
