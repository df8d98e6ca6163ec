package db

import (
	"context"
	"errors"
	"time"

	"leasecore/internal/domain"

	"gorm.io/gorm"
)

type ChallengeRepository struct {
	db *gorm.DB
}

func (r *ChallengeRepository) Create(ctx context.Context, challenge domain.OTPChallenge) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if challenge.ID == "" {
		id, err := newUUID()
		if err != nil {
			return err
		}
		challenge.ID = id
	}
	model := challengeToModel(challenge)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ChallengeRepository) GetByID(ctx context.Context, challengeID string) (*domain.OTPChallenge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model OTPChallengeModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", challengeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return challengeFromModel(model), nil
}

func (r *ChallengeRepository) GetLatest(ctx context.Context, leaseID string) (*domain.OTPChallenge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model OTPChallengeModel
	err := r.db.WithContext(ctx).
		Where("lease_id = ?", leaseID).
		Order("sent_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return challengeFromModel(model), nil
}

func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, challengeID string) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var attempts int
	err := r.db.WithContext(ctx).Raw(
		`UPDATE otp_challenges SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		challengeID,
	).Scan(&attempts).Error
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *ChallengeRepository) MarkVerified(ctx context.Context, challengeID string, at time.Time, clientIP string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&OTPChallengeModel{}).
		Where("id = ?", challengeID).
		Updates(map[string]any{
			"is_verified": true,
			"verified_at": at.UTC(),
			"client_ip":   clientIP,
		}).Error
}

func (r *ChallengeRepository) MarkExpired(ctx context.Context, challengeID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&OTPChallengeModel{}).
		Where("id = ?", challengeID).
		Update("is_expired", true).Error
}

// ExpireActive supersedes every still-verifiable challenge for the lease.
// Verified rows are history and stay untouched.
func (r *ChallengeRepository) ExpireActive(ctx context.Context, leaseID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&OTPChallengeModel{}).
		Where("lease_id = ? AND is_verified = false AND is_expired = false", leaseID).
		Update("is_expired", true).Error
}

func challengeToModel(challenge domain.OTPChallenge) OTPChallengeModel {
	return OTPChallengeModel{
		ID:         challenge.ID,
		LeaseID:    challenge.LeaseID,
		Phone:      challenge.Phone,
		CodeHash:   challenge.CodeHash,
		Purpose:    challenge.Purpose,
		SentAt:     challenge.SentAt.UTC(),
		ExpiresAt:  challenge.ExpiresAt.UTC(),
		VerifiedAt: challenge.VerifiedAt,
		Attempts:   challenge.Attempts,
		IsVerified: challenge.IsVerified,
		IsExpired:  challenge.IsExpired,
		ClientIP:   challenge.ClientIP,
		CreatedAt:  challenge.CreatedAt.UTC(),
	}
}

func challengeFromModel(model OTPChallengeModel) *domain.OTPChallenge {
	return &domain.OTPChallenge{
		ID:         model.ID,
		LeaseID:    model.LeaseID,
		Phone:      model.Phone,
		CodeHash:   model.CodeHash,
		Purpose:    model.Purpose,
		SentAt:     model.SentAt.UTC(),
		ExpiresAt:  model.ExpiresAt.UTC(),
		VerifiedAt: model.VerifiedAt,
		Attempts:   model.Attempts,
		IsVerified: model.IsVerified,
		IsExpired:  model.IsExpired,
		ClientIP:   model.ClientIP,
		CreatedAt:  model.CreatedAt.UTC(),
	}
}
