package db

import "time"

type LeaseModel struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	Reference       string    `gorm:"uniqueIndex;not null"`
	LandlordID      string    `gorm:"type:uuid;index"`
	TenantID        string    `gorm:"type:uuid;index"`
	TenantPhone     string
	TenantEmail     string
	WorkflowState   string    `gorm:"index;not null"`
	DocumentVersion int64     `gorm:"not null"`
	DocumentRef     string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (LeaseModel) TableName() string { return "leases" }

type OTPChallengeModel struct {
	ID         string     `gorm:"type:uuid;primaryKey"`
	LeaseID    string     `gorm:"type:uuid;index;not null"`
	Phone      string     `gorm:"not null"`
	CodeHash   string     `gorm:"not null"`
	Purpose    string     `gorm:"not null"`
	SentAt     time.Time  `gorm:"index;not null"`
	ExpiresAt  time.Time  `gorm:"not null"`
	VerifiedAt *time.Time
	Attempts   int       `gorm:"not null;default:0"`
	IsVerified bool      `gorm:"not null;default:false"`
	IsExpired  bool      `gorm:"not null;default:false"`
	ClientIP   string
	CreatedAt  time.Time `gorm:"not null"`
}

func (OTPChallengeModel) TableName() string { return "otp_challenges" }

type SignatureRecordModel struct {
	ID            string     `gorm:"type:uuid;primaryKey"`
	LeaseID       string     `gorm:"type:uuid;uniqueIndex;not null"`
	ChallengeID   string     `gorm:"type:uuid;index;not null"`
	Payload       []byte     `gorm:"type:bytea;not null"`
	Method        string     `gorm:"not null"`
	IntegrityHash string     `gorm:"not null"`
	SignedAt      time.Time  `gorm:"not null"`
	Latitude      *float64
	Longitude     *float64
	ClientIP      string
	UserAgent     string
	CreatedAt     time.Time `gorm:"not null"`
}

func (SignatureRecordModel) TableName() string { return "signature_records" }

type ApprovalModel struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	LeaseID         string     `gorm:"type:uuid;index;not null"`
	LandlordID      string     `gorm:"type:uuid;index"`
	Decision        string     `gorm:"index;not null"`
	Comments        string
	RejectionReason string
	ReviewedBy      *string    `gorm:"type:uuid"`
	RequestedAt     time.Time  `gorm:"not null"`
	ReviewedAt      *time.Time
	CreatedAt       time.Time  `gorm:"not null"`
}

func (ApprovalModel) TableName() string { return "lease_approvals" }

type AuditEntryModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	LeaseID       string    `gorm:"type:uuid;index:idx_audit_lease_seq,unique;not null"`
	Seq           int64     `gorm:"index:idx_audit_lease_seq,unique;not null"`
	Action        string    `gorm:"index;not null"`
	OldState      string
	NewState      string
	ActorID       *string
	ActorRole     string
	ClientIP      string
	DetailJSON    []byte    `gorm:"type:jsonb;not null"`
	PayloadHash   string    `gorm:"not null"`
	PrevEntryHash string    `gorm:"not null"`
	EntryHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (AuditEntryModel) TableName() string { return "lease_audit_entries" }

// LeaseAuditSeqModel is the per-lease sequence cursor backing the audit
// chain. Rows are taken FOR UPDATE so concurrent appends serialize.
type LeaseAuditSeqModel struct {
	LeaseID string `gorm:"type:uuid;primaryKey"`
	Seq     int64  `gorm:"not null"`
}

func (LeaseAuditSeqModel) TableName() string { return "lease_audit_seq" }
