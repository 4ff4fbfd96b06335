package restq

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Vars carries mutation variables as an explicit tagged union: Keyed
// appends "/"+id to the resource URL and sends only the payload as the
// body; Direct sends the payload against the URL unchanged. The id never
// leaks into the body.
type Vars struct {
	keyed   bool
	id      string
	payload any
}

// Keyed builds Vars targeting a child resource by id.
func Keyed(id string, payload any) Vars {
	return Vars{keyed: true, id: id, payload: payload}
}

// Direct builds Vars targeting the resource URL as-is.
func Direct(payload any) Vars {
	return Vars{payload: payload}
}

// Confirmer gates destructive mutations behind a blocking prompt. A false
// return aborts the mutation with ErrCancelled before any network call.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmerFunc) Confirm(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}

// MutationResult is the explicit outcome of a successful mutation.
type MutationResult struct {
	Data       json.RawMessage
	StatusCode int
}

// mutationContext is the ephemeral rollback snapshot created at the start
// of an optimistic mutation. Each mutate call creates its own; it is
// consumed by exactly one of the success (discard) or failure (restore)
// paths and never reused.
type mutationContext struct {
	key      string
	previous []byte
	existed  bool
}

// Resource binds a URL to a client and query engine and exposes the five
// CRUD operations with cache invalidation and optimistic updates.
type Resource struct {
	client        *Client
	queries       *Queries
	url           string
	headers       http.Header
	keys          []string
	auxKeys       []string
	observers     []MutationObserver
	confirmer     Confirmer
	optimistic    bool
	identityField string
}

// ResourceOption configures a Resource.
type ResourceOption func(*Resource)

// WithResourceHeaders adds headers to every request from this resource.
func WithResourceHeaders(headers http.Header) ResourceOption {
	return func(r *Resource) {
		r.headers = headers
	}
}

// WithInvalidateKeys sets the cache keys invalidated and refetched after a
// successful mutation.
func WithInvalidateKeys(keys ...string) ResourceOption {
	return func(r *Resource) {
		r.keys = keys
	}
}

// WithAuxiliaryKeys sets additional cross-feature keys refreshed after
// every successful mutation regardless of the invalidate list (e.g. a
// notification feed). Opt-in so the coupling stays visible in wiring.
func WithAuxiliaryKeys(keys ...string) ResourceOption {
	return func(r *Resource) {
		r.auxKeys = keys
	}
}

// WithObserver registers mutation outcome observers.
func WithObserver(observers ...MutationObserver) ResourceOption {
	return func(r *Resource) {
		r.observers = append(r.observers, observers...)
	}
}

// WithConfirmer gates Delete behind a confirmation prompt.
func WithConfirmer(c Confirmer) ResourceOption {
	return func(r *Resource) {
		r.confirmer = c
	}
}

// WithOptimisticUpdates enables optimistic cache writes with rollback for
// Update, Patch and Delete. The first invalidate key is the optimistic
// target.
func WithOptimisticUpdates() ResourceOption {
	return func(r *Resource) {
		r.optimistic = true
	}
}

// WithIdentityField sets the JSON field used to match list items during
// optimistic delete (default "id").
func WithIdentityField(field string) ResourceOption {
	return func(r *Resource) {
		r.identityField = field
	}
}

// NewResource binds url to client and queries.
func NewResource(client *Client, queries *Queries, url string, opts ...ResourceOption) *Resource {
	r := &Resource{
		client:        client,
		queries:       queries,
		url:           url,
		identityField: "id",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get fetches the resource with the given params through the query engine:
// a fresh cached entry resolves without a network call, and concurrent
// callers with the same key share one in-flight request. The envelope data
// is decoded into v when v is non-nil.
func (r *Resource) Get(ctx context.Context, params Params, v any, opts ...FetchOption) error {
	key := r.queries.Key(r.url, params)

	data, err := r.queries.Fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		req, err := r.newRequest(ctx, http.MethodGet, withQuery(r.url, params.Encode()), nil)
		if err != nil {
			return nil, err
		}
		data, _, err := r.client.DoEnvelope(req, "failed to fetch data")
		return data, err
	}, opts...)
	if err != nil {
		return err
	}

	return decodeInto(data, v)
}

// Create issues a POST and, on success, invalidates and refetches the
// configured keys (plus any auxiliary keys) and notifies observers.
func (r *Resource) Create(ctx context.Context, body any, v any) (*MutationResult, error) {
	result, err := r.send(ctx, http.MethodPost, r.url, body, "failed to post data")
	if err != nil {
		r.notifyError(OpCreate, err)
		return nil, err
	}

	r.refresh(ctx)
	r.notifySuccess(OpCreate, "created")
	return result, decodeInto(result.Data, v)
}

// Update issues a PUT with the given vars.
func (r *Resource) Update(ctx context.Context, vars Vars, v any) (*MutationResult, error) {
	return r.replace(ctx, OpUpdate, http.MethodPut, vars, v)
}

// Patch issues a PATCH with the given vars.
func (r *Resource) Patch(ctx context.Context, vars Vars, v any) (*MutationResult, error) {
	return r.replace(ctx, OpPatch, http.MethodPatch, vars, v)
}

func (r *Resource) replace(ctx context.Context, op Op, method string, vars Vars, v any) (*MutationResult, error) {
	url := r.url
	if vars.keyed {
		url = strings.TrimRight(r.url, "/") + "/" + vars.id
	}

	mctx := r.applyOptimistic(ctx, vars.payload)

	result, err := r.send(ctx, method, url, vars.payload, "failed to update data")
	if err != nil {
		r.rollback(ctx, op, mctx)
		r.notifyError(op, err)
		// *Error carries StatusCode, so 400/401 failures reach the
		// caller already annotated.
		return nil, err
	}

	r.refresh(ctx)
	r.notifySuccess(op, "updated")
	return result, decodeInto(result.Data, v)
}

// Delete issues a DELETE against the resource URL, which already fully
// identifies the target. With a Confirmer configured, a declined prompt
// aborts with ErrCancelled and no network call. With optimistic updates
// enabled the matching item is removed from the cached list immediately
// and restored on failure.
func (r *Resource) Delete(ctx context.Context, v any) (*MutationResult, error) {
	if r.confirmer != nil && !r.confirmer.Confirm(ctx, "Delete "+r.url+"?") {
		err := &Error{
			Kind:    KindCancelled,
			Message: "delete cancelled",
			Cause:   ErrCancelled,
			Method:  http.MethodDelete,
			URL:     r.url,
		}
		r.notifyError(OpDelete, err)
		return nil, err
	}

	mctx := r.applyOptimisticRemoval(ctx)

	result, err := r.send(ctx, http.MethodDelete, r.url, nil, "failed to delete data")
	if err != nil {
		r.rollback(ctx, OpDelete, mctx)
		r.notifyError(OpDelete, err)
		return nil, err
	}

	r.refresh(ctx)
	r.notifySuccess(OpDelete, "deleted")
	return result, decodeInto(result.Data, v)
}

// send performs one mutation request, retrying once when the engine's
// mutation retry count allows it and the failure is transient. Mutations
// never loop beyond that.
func (r *Resource) send(ctx context.Context, method, url string, body any, fallback string) (*MutationResult, error) {
	attempt := func() (*MutationResult, error) {
		req, err := r.newRequest(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		data, status, err := r.client.DoEnvelope(req, fallback)
		if err != nil {
			return nil, err
		}
		return &MutationResult{Data: data, StatusCode: status}, nil
	}

	result, err := attempt()
	if err != nil && r.queries.MutationRetries() > 0 && IsTransient(err) {
		result, err = attempt()
	}
	return result, err
}

func (r *Resource) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	req, err := r.client.NewRequest(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for key, values := range r.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	return req, nil
}

// applyOptimistic snapshots the first configured key and writes the new
// payload into it before the request resolves. Returns nil when optimistic
// updates are off or no key is configured.
func (r *Resource) applyOptimistic(ctx context.Context, payload any) *mutationContext {
	if !r.optimistic || len(r.keys) == 0 {
		return nil
	}

	key := r.keys[0]
	previous, existed := r.queries.Snapshot(ctx, key)

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	r.queries.Set(ctx, key, encoded)

	return &mutationContext{key: key, previous: previous, existed: existed}
}

// applyOptimisticRemoval removes the item whose identity field matches the
// URL's trailing segment from the cached list under the first configured
// key, snapshotting the prior list for rollback.
func (r *Resource) applyOptimisticRemoval(ctx context.Context) *mutationContext {
	if !r.optimistic || len(r.keys) == 0 {
		return nil
	}

	key := r.keys[0]
	previous, existed := r.queries.Snapshot(ctx, key)
	if !existed {
		return nil
	}

	id := r.url[strings.LastIndex(r.url, "/")+1:]
	trimmed, changed := removeByIdentity(previous, r.identityField, id)
	if !changed {
		return nil
	}
	r.queries.Set(ctx, key, trimmed)

	return &mutationContext{key: key, previous: previous, existed: true}
}

// rollback restores the snapshot taken by an optimistic write. The restore
// happens before the error is surfaced to the caller.
func (r *Resource) rollback(ctx context.Context, op Op, mctx *mutationContext) {
	if mctx == nil {
		return
	}
	if mctx.existed {
		r.queries.Set(ctx, mctx.key, mctx.previous)
	} else {
		r.queries.Invalidate(ctx, mctx.key)
	}
	r.client.metrics.RecordOptimisticRollback(string(op))
}

// refresh is the mutation-success path: invalidate and refetch the
// configured keys and the auxiliary keys.
func (r *Resource) refresh(ctx context.Context) {
	keys := make([]string, 0, len(r.keys)+len(r.auxKeys))
	keys = append(keys, r.keys...)
	keys = append(keys, r.auxKeys...)
	if len(keys) == 0 {
		return
	}
	if err := r.queries.InvalidateAndRefetch(ctx, keys...); err != nil && r.client.logger != nil {
		r.client.logger.Warn("Post-mutation refetch failed", "url", r.url, "error", err.Error())
	}
}

func (r *Resource) notifySuccess(op Op, message string) {
	for _, obs := range r.observers {
		obs.OnSuccess(op, message)
	}
}

func (r *Resource) notifyError(op Op, err error) {
	for _, obs := range r.observers {
		obs.OnError(op, err)
	}
}

// removeByIdentity filters a JSON array, dropping elements whose identity
// field stringifies to id. Returns the original bytes when data is not an
// array or nothing matched.
func removeByIdentity(data []byte, field, id string) ([]byte, bool) {
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return data, false
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return data, false
	}

	kept := make([]json.RawMessage, 0, len(elements))
	removed := false
	for _, el := range elements {
		if gjson.GetBytes(el, field).String() == id {
			removed = true
			continue
		}
		kept = append(kept, el)
	}
	if !removed {
		return data, false
	}

	out, err := json.Marshal(kept)
	if err != nil {
		return data, false
	}
	return out, true
}

func decodeInto(data json.RawMessage, v any) error {
	if v == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{
			Kind:    KindValidation,
			Message: "failed to decode envelope data",
			Cause:   err,
		}
	}
	return nil
}
