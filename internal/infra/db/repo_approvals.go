package db

import (
	"context"
	"errors"
	"time"

	"leasecore/internal/domain"

	"gorm.io/gorm"
)

type ApprovalRepository struct {
	db *gorm.DB
}

func (r *ApprovalRepository) Create(ctx context.Context, approval domain.Approval) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if approval.ID == "" {
		id, err := newUUID()
		if err != nil {
			return err
		}
		approval.ID = id
	}
	model := approvalToModel(approval)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ApprovalRepository) GetPending(ctx context.Context, leaseID string) (*domain.Approval, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ApprovalModel
	err := r.db.WithContext(ctx).
		Where("lease_id = ? AND decision = ?", leaseID, string(domain.ApprovalDecisionPending)).
		Order("requested_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return approvalFromModel(model), nil
}

func (r *ApprovalRepository) Resolve(ctx context.Context, approvalID string, decision domain.ApprovalDecision, reviewedBy, comments, reason string, at time.Time) (*domain.Approval, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	at = at.UTC()
	result := r.db.WithContext(ctx).
		Model(&ApprovalModel{}).
		Where("id = ? AND decision = ?", approvalID, string(domain.ApprovalDecisionPending)).
		Updates(map[string]any{
			"decision":         string(decision),
			"reviewed_by":      stringPtrIfNotEmpty(reviewedBy),
			"comments":         comments,
			"rejection_reason": reason,
			"reviewed_at":      at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNoPendingApproval
	}

	var model ApprovalModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", approvalID).Error; err != nil {
		return nil, err
	}
	return approvalFromModel(model), nil
}

func approvalToModel(approval domain.Approval) ApprovalModel {
	return ApprovalModel{
		ID:              approval.ID,
		LeaseID:         approval.LeaseID,
		LandlordID:      approval.LandlordID,
		Decision:        string(approval.Decision),
		Comments:        approval.Comments,
		RejectionReason: approval.RejectionReason,
		ReviewedBy:      stringPtrIfNotEmpty(approval.ReviewedBy),
		RequestedAt:     approval.RequestedAt.UTC(),
		ReviewedAt:      approval.ReviewedAt,
		CreatedAt:       approval.CreatedAt.UTC(),
	}
}

func approvalFromModel(model ApprovalModel) *domain.Approval {
	return &domain.Approval{
		ID:              model.ID,
		LeaseID:         model.LeaseID,
		LandlordID:      model.LandlordID,
		Decision:        domain.ApprovalDecision(model.Decision),
		Comments:        model.Comments,
		RejectionReason: model.RejectionReason,
		ReviewedBy:      stringValue(model.ReviewedBy),
		RequestedAt:     model.RequestedAt.UTC(),
		ReviewedAt:      model.ReviewedAt,
		CreatedAt:       model.CreatedAt.UTC(),
	}
}
