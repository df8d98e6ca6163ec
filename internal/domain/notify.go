package domain

import "context"

// Notifier is the outbound message collaborator. Dispatch failures never
// roll back a committed state change; callers log the failure to the audit
// ledger and retry out of band.
type Notifier interface {
	SendSMS(ctx context.Context, phone, message string) error
	SendEmail(ctx context.Context, address, subject, body string) error
}
