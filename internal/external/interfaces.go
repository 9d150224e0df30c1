package external

import "context"

// PushGateway delivers a single formatted notification to one device token.
// A non-nil error means delivery did not happen; the caller decides whether
// to retry. A rejected ticket is returned alongside its error.
type PushGateway interface {
	Send(ctx context.Context, msg PushMessage) (*PushTicket, error)
}
