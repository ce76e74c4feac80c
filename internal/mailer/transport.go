package mailer

import "context"

// Transport delivers a composed email. Implementations return the raw
// provider error so the failure classifier can inspect it.
type Transport interface {
	Send(ctx context.Context, email Email) error
}
