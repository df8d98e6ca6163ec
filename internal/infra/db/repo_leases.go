package db

import (
	"context"
	"errors"
	"time"

	"leasecore/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeaseRepository struct {
	db *gorm.DB
}

func (r *LeaseRepository) GetByID(ctx context.Context, leaseID string) (*domain.Lease, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model LeaseModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", leaseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return leaseFromModel(model), nil
}

// GetForUpdate takes the row lock that serializes every workflow operation
// on one lease. Only effective inside a transaction.
func (r *LeaseRepository) GetForUpdate(ctx context.Context, leaseID string) (*domain.Lease, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model LeaseModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", leaseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return leaseFromModel(model), nil
}

func (r *LeaseRepository) Create(ctx context.Context, lease domain.Lease) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := leaseToModel(lease)
	return r.db.WithContext(ctx).Create(&model).Error
}

// UpdateState writes the new state guarded by the version check. Zero rows
// affected means another writer advanced the lease first.
func (r *LeaseRepository) UpdateState(ctx context.Context, leaseID string, fromVersion int64, state domain.WorkflowState, at time.Time) (*domain.Lease, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&LeaseModel{}).
		Where("id = ? AND document_version = ?", leaseID, fromVersion).
		Updates(map[string]any{
			"workflow_state":   string(state),
			"document_version": fromVersion + 1,
			"updated_at":       at.UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}
	return r.GetByID(ctx, leaseID)
}

func leaseToModel(lease domain.Lease) LeaseModel {
	return LeaseModel{
		ID:              lease.ID,
		Reference:       lease.Reference,
		LandlordID:      lease.LandlordID,
		TenantID:        lease.TenantID,
		TenantPhone:     lease.TenantPhone,
		TenantEmail:     lease.TenantEmail,
		WorkflowState:   string(lease.WorkflowState),
		DocumentVersion: lease.DocumentVersion,
		DocumentRef:     lease.DocumentRef,
		CreatedAt:       lease.CreatedAt.UTC(),
		UpdatedAt:       lease.UpdatedAt.UTC(),
	}
}

func leaseFromModel(model LeaseModel) *domain.Lease {
	return &domain.Lease{
		ID:              model.ID,
		Reference:       model.Reference,
		LandlordID:      model.LandlordID,
		TenantID:        model.TenantID,
		TenantPhone:     model.TenantPhone,
		TenantEmail:     model.TenantEmail,
		WorkflowState:   domain.WorkflowState(model.WorkflowState),
		DocumentVersion: model.DocumentVersion,
		DocumentRef:     model.DocumentRef,
		CreatedAt:       model.CreatedAt.UTC(),
		UpdatedAt:       model.UpdatedAt.UTC(),
	}
}
