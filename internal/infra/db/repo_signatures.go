package db

import (
	"context"
	"errors"

	"leasecore/internal/domain"

	"gorm.io/gorm"
)

type SignatureRepository struct {
	db *gorm.DB
}

func (r *SignatureRepository) Create(ctx context.Context, record domain.SignatureRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if record.ID == "" {
		id, err := newUUID()
		if err != nil {
			return err
		}
		record.ID = id
	}
	model := signatureToModel(record)
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAlreadySigned
	}
	return err
}

func (r *SignatureRepository) GetByID(ctx context.Context, recordID string) (*domain.SignatureRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignatureRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", recordID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return signatureFromModel(model), nil
}

func (r *SignatureRepository) GetByLease(ctx context.Context, leaseID string) (*domain.SignatureRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignatureRecordModel
	err := r.db.WithContext(ctx).First(&model, "lease_id = ?", leaseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return signatureFromModel(model), nil
}

func (r *SignatureRepository) CountByLease(ctx context.Context, leaseID string) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SignatureRecordModel{}).
		Where("lease_id = ?", leaseID).
		Count(&count).Error
	return count, err
}

func signatureToModel(record domain.SignatureRecord) SignatureRecordModel {
	model := SignatureRecordModel{
		ID:            record.ID,
		LeaseID:       record.LeaseID,
		ChallengeID:   record.ChallengeID,
		Payload:       record.Payload,
		Method:        string(record.Method),
		IntegrityHash: record.IntegrityHash,
		SignedAt:      record.SignedAt.UTC(),
		ClientIP:      record.ClientIP,
		UserAgent:     record.UserAgent,
		CreatedAt:     record.CreatedAt.UTC(),
	}
	if record.Location != nil {
		lat, lng := record.Location.Latitude, record.Location.Longitude
		model.Latitude = &lat
		model.Longitude = &lng
	}
	return model
}

func signatureFromModel(model SignatureRecordModel) *domain.SignatureRecord {
	record := &domain.SignatureRecord{
		ID:            model.ID,
		LeaseID:       model.LeaseID,
		ChallengeID:   model.ChallengeID,
		Payload:       model.Payload,
		Method:        domain.SignatureMethod(model.Method),
		IntegrityHash: model.IntegrityHash,
		SignedAt:      model.SignedAt.UTC(),
		ClientIP:      model.ClientIP,
		UserAgent:     model.UserAgent,
		CreatedAt:     model.CreatedAt.UTC(),
	}
	if model.Latitude != nil && model.Longitude != nil {
		record.Location = &domain.Geolocation{
			Latitude:  *model.Latitude,
			Longitude: *model.Longitude,
		}
	}
	return record
}
