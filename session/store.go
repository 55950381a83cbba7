package session

import "context"

// Store persists sessions. SaveSession follows the same version rules as
// order.Store.SaveOrder.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, customerID string) (*Session, error)
	ListSessions(ctx context.Context, opts ListOpts) ([]*Session, error)
}

// ListOpts filters ListSessions.
type ListOpts struct {
	State       State
	NeedsReview bool
	Limit       int
	Offset      int
}

// Match reports whether s satisfies the filter.
func (opts ListOpts) Match(s *Session) bool {
	if opts.State != "" && s.State != opts.State {
		return false
	}
	if opts.NeedsReview && !s.NeedsReview {
		return false
	}
	return true
}
