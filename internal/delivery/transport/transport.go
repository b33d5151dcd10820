package transport

import "context"

// Transport renders and transmits one email to one recipient.
// A non-nil error means the attempt failed; callers record the outcome
// per recipient and continue, so implementations must report failures
// through the return value rather than panicking.
type Transport interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) error
}
