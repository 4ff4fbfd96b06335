package restq

import "context"

// SessionHandler reacts to a 401 response. The handler runs synchronously
// before the auth error is surfaced, so by the time the caller sees the
// error the local session state is already gone.
type SessionHandler interface {
	OnUnauthorized(ctx context.Context)
}

// SessionHandlerFunc adapts a function to SessionHandler.
type SessionHandlerFunc func(ctx context.Context)

// OnUnauthorized implements SessionHandler.
func (f SessionHandlerFunc) OnUnauthorized(ctx context.Context) {
	f(ctx)
}

// Session is the default SessionHandler: it clears the token store,
// invalidates user-scoped query keys and invokes a redirect callback
// (the sign-in entry point in a UI, a re-login routine in a daemon).
type Session struct {
	store    TokenStore
	queries  *Queries
	userKeys []string
	redirect func()
	logger   Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionQueries invalidates keys on the given engine during teardown.
func WithSessionQueries(q *Queries, keys ...string) SessionOption {
	return func(s *Session) {
		s.queries = q
		s.userKeys = keys
	}
}

// WithSessionRedirect sets the callback invoked after teardown.
func WithSessionRedirect(fn func()) SessionOption {
	return func(s *Session) {
		s.redirect = fn
	}
}

// WithSessionLogger sets the logger used for teardown diagnostics.
func WithSessionLogger(l Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// NewSession returns a Session clearing store on 401.
func NewSession(store TokenStore, opts ...SessionOption) *Session {
	s := &Session{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnUnauthorized implements SessionHandler.
func (s *Session) OnUnauthorized(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil && s.logger != nil {
			s.logger.Warn("Failed to clear credential store", "error", err.Error())
		}
	}
	if s.queries != nil && len(s.userKeys) > 0 {
		s.queries.Invalidate(ctx, s.userKeys...)
	}
	if s.redirect != nil {
		s.redirect()
	}
}
