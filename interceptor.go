package restq

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestInterceptor mutates an outgoing request before transmission. It
// must not perform I/O beyond reading a locally held credential. A non-nil
// error aborts the request: nothing is sent (fail closed).
type RequestInterceptor func(req *http.Request) error

// AuthInterceptor sets "Authorization: Bearer <token>" from the provider.
// An empty token leaves the request untouched; a provider error propagates
// and the request is never sent.
func AuthInterceptor(provider CredentialProvider) RequestInterceptor {
	return func(req *http.Request) error {
		token, err := provider.Token(req.Context())
		if err != nil {
			return &Error{
				Kind:    KindAuth,
				Message: "credential lookup failed",
				Cause:   err,
				Method:  req.Method,
				URL:     req.URL.String(),
			}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return nil
	}
}

// ContentTypeInterceptor fills in Content-Type for requests that carry a
// body. Multipart bodies (built with mime/multipart, which sets its own
// boundary header) are left alone; any other explicit Content-Type wins;
// otherwise a body defaults to JSON.
func ContentTypeInterceptor() RequestInterceptor {
	return func(req *http.Request) error {
		if req.Body == nil {
			return nil
		}
		// Multipart writers set their own boundary header; any explicit
		// Content-Type wins over the JSON default.
		if req.Header.Get("Content-Type") != "" {
			return nil
		}
		req.Header.Set("Content-Type", "application/json;charset=utf-8")
		return nil
	}
}

// TraceInterceptor stamps X-Request-ID and X-Request-Timestamp headers.
// gen defaults to uuid.NewString.
func TraceInterceptor(gen func() string) RequestInterceptor {
	if gen == nil {
		gen = uuid.NewString
	}
	return func(req *http.Request) error {
		if req.Header.Get("X-Request-ID") == "" {
			req.Header.Set("X-Request-ID", gen())
		}
		req.Header.Set("X-Request-Timestamp", time.Now().UTC().Format(time.RFC3339))
		return nil
	}
}

// applyInterceptors runs the chain in fixed order, stopping at the first
// error.
func applyInterceptors(req *http.Request, chain []RequestInterceptor) error {
	for _, ic := range chain {
		if ic == nil {
			continue
		}
		if err := ic(req); err != nil {
			return err
		}
	}
	return nil
}
