package payment

import "time"

type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookDelivered WebhookStatus = "delivered"
	WebhookFailed    WebhookStatus = "failed"
	WebhookExhausted WebhookStatus = "exhausted"
)

// WebhookDelivery tracks one outbound delivery attempt group for a single
// payment event. A row is created once at enqueue time and updated in
// place through retries — never duplicated per attempt.
type WebhookDelivery struct {
	ID            string
	PaymentID     string
	EventType     string
	Payload       []byte
	Signature     string
	Status        WebhookStatus
	Attempts      int
	MaxAttempts   int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	ResponseCode  int
	ResponseBody  string
	CreatedAt     time.Time
}
