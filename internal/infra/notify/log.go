package notify

import (
	"context"
	"log"

	"leasecore/internal/domain"
)

// LogNotifier writes outbound messages to the process log instead of a
// provider. Used when no SMS gateway is configured so local runs still show
// the codes and links that would go out.
type LogNotifier struct{}

func NewLogNotifier() domain.Notifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendSMS(_ context.Context, phone, message string) error {
	log.Printf("notify: sms to=%s body=%q", maskPhone(phone), message)
	return nil
}

func (n *LogNotifier) SendEmail(_ context.Context, address, subject, _ string) error {
	log.Printf("notify: email to=%s subject=%q", address, subject)
	return nil
}

// maskPhone keeps only the trailing digits so logs never carry a full
// dialable number.
func maskPhone(phone string) string {
	if len(phone) <= 3 {
		return "***"
	}
	masked := make([]byte, len(phone))
	for i := range phone {
		if i >= len(phone)-3 {
			masked[i] = phone[i]
		} else {
			masked[i] = '*'
		}
	}
	return string(masked)
}
