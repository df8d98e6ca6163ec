package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"leasecore/internal/domain"
	"leasecore/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditEntryRepository appends hash-chained entries. Sequencing goes through
// the lease_audit_seq cursor row taken FOR UPDATE, so concurrent appends for
// one lease serialize and the chain never forks.
type AuditEntryRepository struct {
	db *gorm.DB
}

func (r *AuditEntryRepository) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if r.db == nil {
		return domain.AuditEntry{}, errDBUnavailable
	}
	if entry.LeaseID == "" {
		return domain.AuditEntry{}, errors.New("audit entry missing lease_id")
	}
	if entry.Action == "" {
		return domain.AuditEntry{}, errors.New("audit entry missing action")
	}
	if entry.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.AuditEntry{}, err
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	// timestamptz keeps microseconds; hash what the column will store.
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Microsecond)

	payloadHash, err := usecase.DetailHash(entry.Detail)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.PayloadHash = payloadHash

	// Sequencing and insert run in one transaction so the cursor lock
	// holds until commit. Inside Store.WithTx this nests as a savepoint.
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextAuditSeq(ctx, tx, entry.LeaseID)
		if err != nil {
			return err
		}
		entry.Seq = seq

		prevHash := usecase.ZeroEntryHash()
		if seq > 1 {
			var prev AuditEntryModel
			err := tx.WithContext(ctx).
				Where("lease_id = ? AND seq = ?", entry.LeaseID, seq-1).
				First(&prev).Error
			if err != nil {
				return err
			}
			prevHash = prev.EntryHash
			// The chain timestamp order follows seq. A clock step backwards
			// must not produce an entry older than its predecessor.
			if entry.CreatedAt.Before(prev.CreatedAt) {
				entry.CreatedAt = prev.CreatedAt.UTC()
			}
		}
		entry.PrevEntryHash = prevHash

		entryHash, err := usecase.EntryHash(entry)
		if err != nil {
			return err
		}
		entry.EntryHash = entryHash

		model, err := auditToModel(entry)
		if err != nil {
			return err
		}
		return tx.WithContext(ctx).Create(&model).Error
	})
	if err != nil {
		return domain.AuditEntry{}, err
	}
	return entry, nil
}

func (r *AuditEntryRepository) History(ctx context.Context, leaseID string) ([]domain.AuditEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEntryModel
	err := r.db.WithContext(ctx).
		Where("lease_id = ?", leaseID).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AuditEntry, 0, len(models))
	for _, model := range models {
		entry, err := auditFromModel(model)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// nextAuditSeq reserves the next sequence number for the lease. The cursor
// row is created on first use and locked for the remainder of the enclosing
// transaction.
func nextAuditSeq(ctx context.Context, tx *gorm.DB, leaseID string) (int64, error) {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO lease_audit_seq (lease_id, seq) VALUES (?, 0) ON CONFLICT (lease_id) DO NOTHING`,
		leaseID,
	).Error
	if err != nil {
		return 0, err
	}

	var cursor LeaseAuditSeqModel
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("lease_id = ?", leaseID).
		First(&cursor).Error
	if err != nil {
		return 0, err
	}

	next := cursor.Seq + 1
	err = tx.WithContext(ctx).
		Model(&LeaseAuditSeqModel{}).
		Where("lease_id = ?", leaseID).
		Update("seq", next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func auditToModel(entry domain.AuditEntry) (AuditEntryModel, error) {
	detail := entry.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return AuditEntryModel{}, err
	}
	return AuditEntryModel{
		ID:            entry.ID,
		LeaseID:       entry.LeaseID,
		Seq:           entry.Seq,
		Action:        string(entry.Action),
		OldState:      string(entry.OldState),
		NewState:      string(entry.NewState),
		ActorID:       stringPtrIfNotEmpty(entry.ActorID),
		ActorRole:     entry.ActorRole,
		ClientIP:      entry.ClientIP,
		DetailJSON:    detailJSON,
		PayloadHash:   entry.PayloadHash,
		PrevEntryHash: entry.PrevEntryHash,
		EntryHash:     entry.EntryHash,
		CreatedAt:     entry.CreatedAt.UTC(),
	}, nil
}

func auditFromModel(model AuditEntryModel) (domain.AuditEntry, error) {
	detail := map[string]any{}
	if len(model.DetailJSON) > 0 {
		if err := json.Unmarshal(model.DetailJSON, &detail); err != nil {
			return domain.AuditEntry{}, err
		}
	}
	return domain.AuditEntry{
		ID:            model.ID,
		LeaseID:       model.LeaseID,
		Seq:           model.Seq,
		Action:        domain.AuditAction(model.Action),
		OldState:      domain.WorkflowState(model.OldState),
		NewState:      domain.WorkflowState(model.NewState),
		ActorID:       stringValue(model.ActorID),
		ActorRole:     model.ActorRole,
		ClientIP:      model.ClientIP,
		Detail:        detail,
		PayloadHash:   model.PayloadHash,
		PrevEntryHash: model.PrevEntryHash,
		EntryHash:     model.EntryHash,
		CreatedAt:     model.CreatedAt.UTC(),
	}, nil
}
