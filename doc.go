// Package restq provides a data-fetching toolkit for JSON envelope APIs:
//
//   - Transport client with a request interceptor chain (auth header,
//     content type, trace headers) and a middleware chain for cross-cutting
//     concerns
//   - Envelope normalization ({statusCode, error, message, data}) with a
//     typed error taxonomy and forced session teardown on 401
//   - Keyed query cache with stale-time bookkeeping, in-flight coalescing
//     and subscriptions, pluggable backends (in-memory, go-cache, Redis)
//   - CRUD resource helpers (GET/POST/PUT/PATCH/DELETE) with cache
//     invalidation, optimistic updates and rollback on failure
//   - Retries with exponential backoff + jitter, rate limiting, circuit
//     breaking, Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - No ambient globals: credentials, session handling and side effects
//     are injected dependencies
//   - Safe concurrent use of a single *Client / *Queries instance
//   - Extensibility via user supplied middleware, observers and pluggable
//     cache / metrics backends
//
// Typical usage:
//
//	client := restq.New(
//	    restq.WithBaseURL("https://api.example.com"),
//	    restq.WithCredentialProvider(restq.NewStoreCredentials(store)),
//	    restq.WithMaxRetries(3),
//	)
//	queries := restq.NewQueries(restq.WithStaleTime(time.Minute))
//	users := restq.NewResource(client, queries, "/users",
//	    restq.WithInvalidateKeys("/users"),
//	)
//	var list []User
//	err := users.Get(ctx, restq.Params{"page": 1}, &list)
//
// Mutations return an explicit MutationResult; UI-style side effects (toasts,
// redirects) are composed externally through MutationObserver and
// SessionHandler rather than baked into the hooks.
package restq
