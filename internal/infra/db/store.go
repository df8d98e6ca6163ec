package db

import (
	"context"
	"fmt"
	"log"

	"leasecore/internal/config"
	"leasecore/internal/usecase"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store binds the lease-core repositories to one *gorm.DB. WithTx returns a
// Store bound to a transaction, so a workflow unit commits or rolls back as
// a whole.
type Store struct {
	db *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		log.Printf("POSTGRES_DSN not set; starting in no-db mode.")
		return &Store{db: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &Store{db: gdb}, nil
}

// NewStoreWithDB wraps an existing connection; used by integration tests.
func NewStoreWithDB(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) AutoMigrate() error {
	if s.db == nil {
		return nil
	}
	return s.db.AutoMigrate(
		&LeaseModel{},
		&OTPChallengeModel{},
		&SignatureRecordModel{},
		&ApprovalModel{},
		&AuditEntryModel{},
		&LeaseAuditSeqModel{},
	)
}

func (s *Store) Leases() usecase.LeaseRepository {
	return &LeaseRepository{db: s.db}
}

func (s *Store) Challenges() usecase.ChallengeRepository {
	return &ChallengeRepository{db: s.db}
}

func (s *Store) Signatures() usecase.SignatureRepository {
	return &SignatureRepository{db: s.db}
}

func (s *Store) Approvals() usecase.ApprovalRepository {
	return &ApprovalRepository{db: s.db}
}

func (s *Store) Audit() usecase.AuditRepository {
	return &AuditEntryRepository{db: s.db}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx usecase.Store) error) error {
	if s.db == nil {
		return errDBUnavailable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}
