// Package http provides a read-mostly HTTP view of a hooks registry and a monitor store.
//
// Responses are encoded with the payload codec named in the Accept header
// (JSON by default, MessagePack with "application/msgpack").
//
//	store := monitor.NewMemoryStore()
//	h := hooks.New("app", hooks.WithMonitor(store))
//	mux.Handle("/v1/", monhttp.New(h, store))
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rbaliyan/hooks"
	"github.com/rbaliyan/hooks/monitor"
	"github.com/rbaliyan/hooks/monitor/stream"
	"github.com/rbaliyan/hooks/payload"
)

// DefaultDeleteAge is the minimum age for deletion without force flag.
const DefaultDeleteAge = 24 * time.Hour

// SubscriberView is the serialized form of a registered subscriber.
type SubscriberView struct {
	ID       string `json:"id" msgpack:"id"`
	Key      string `json:"key,omitempty" msgpack:"key,omitempty"`
	Priority int    `json:"priority" msgpack:"priority"`
}

// SubscribersResponse maps hook names to their subscribers in registration order.
type SubscribersResponse struct {
	Kind        hooks.Kind                  `json:"kind" msgpack:"kind"`
	Subscribers map[string][]SubscriberView `json:"subscribers" msgpack:"subscribers"`
}

// EntriesResponse lists the entries of a single dispatch.
type EntriesResponse struct {
	Entries []*monitor.Entry `json:"entries" msgpack:"entries"`
}

// CountResponse is returned by the count endpoint.
type CountResponse struct {
	Count int64 `json:"count" msgpack:"count"`
}

// DeleteResponse is returned by the cleanup endpoint.
type DeleteResponse struct {
	Deleted int64 `json:"deleted" msgpack:"deleted"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error" msgpack:"error"`
}

// Handler implements http.Handler for registry introspection and monitor queries.
type Handler struct {
	hooks       *hooks.Hooks
	store       monitor.Store
	broadcaster *stream.Broadcaster
	limiter     *rate.Limiter
	mux         *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithStream serves completed entries from b as server-sent events on
// GET /v1/monitor/stream. The caller starts and stops the broadcaster.
func WithStream(b *stream.Broadcaster) Option {
	return func(h *Handler) {
		h.broadcaster = b
	}
}

// WithRateLimit limits requests across all routes to rps per second with the
// given burst. Requests over the limit get 429.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Handler) {
		if rps > 0 && burst > 0 {
			h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// New creates a new HTTP handler. Either h or store may be nil, in which case
// the matching routes answer 404.
func New(h *hooks.Hooks, store monitor.Store, opts ...Option) *Handler {
	handler := &Handler{
		hooks: h,
		store: store,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(handler)
	}

	// GET /v1/hooks/status - registry status
	// GET /v1/hooks/events[?name=] - registered listeners
	// GET /v1/hooks/filters[?name=] - registered filters
	// GET /v1/monitor/entries - List entries with query params
	// GET /v1/monitor/entries/{dispatch_id} - Entries of one dispatch
	// GET /v1/monitor/entries/count - Count entries
	// DELETE /v1/monitor/entries - Delete entries older than specified age
	// GET /v1/monitor/stream - Completed entries as server-sent events
	handler.mux.HandleFunc("/v1/hooks/status", handler.handleStatus)
	handler.mux.HandleFunc("/v1/hooks/events", handler.handleEvents)
	handler.mux.HandleFunc("/v1/hooks/filters", handler.handleFilters)
	handler.mux.HandleFunc("/v1/monitor/entries", handler.handleEntries)
	handler.mux.HandleFunc("/v1/monitor/entries/", handler.handleEntriesWithPath)
	handler.mux.HandleFunc("/v1/monitor/entries/count", handler.handleCount)
	handler.mux.HandleFunc("/v1/monitor/stream", handler.handleStream)

	return handler
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireHooks(w, r) {
		return
	}
	h.writeResponse(w, r, http.StatusOK, h.hooks.Status())
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !h.requireHooks(w, r) {
		return
	}
	name := r.URL.Query().Get("name")
	var subs map[string][]hooks.EventSubscriber
	if name != "" {
		subs = map[string][]hooks.EventSubscriber{name: h.hooks.GetEvents(name)}
	} else {
		subs = h.hooks.AllEvents()
	}
	resp := SubscribersResponse{Kind: hooks.KindEvent, Subscribers: make(map[string][]SubscriberView, len(subs))}
	for n, list := range subs {
		resp.Subscribers[n] = viewsOf(list)
	}
	h.writeResponse(w, r, http.StatusOK, resp)
}

func (h *Handler) handleFilters(w http.ResponseWriter, r *http.Request) {
	if !h.requireHooks(w, r) {
		return
	}
	name := r.URL.Query().Get("name")
	var subs map[string][]hooks.FilterSubscriber
	if name != "" {
		subs = map[string][]hooks.FilterSubscriber{name: h.hooks.GetFilters(name)}
	} else {
		subs = h.hooks.AllFilters()
	}
	resp := SubscribersResponse{Kind: hooks.KindFilter, Subscribers: make(map[string][]SubscriberView, len(subs))}
	for n, list := range subs {
		resp.Subscribers[n] = viewsOf(list)
	}
	h.writeResponse(w, r, http.StatusOK, resp)
}

func viewsOf[F any](subs []hooks.Subscriber[F]) []SubscriberView {
	views := make([]SubscriberView, len(subs))
	for i, s := range subs {
		views[i] = SubscriberView{ID: s.ID, Key: s.Key, Priority: s.Priority}
	}
	return views
}

// requireHooks answers GET-only routes backed by the registry
func (h *Handler) requireHooks(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		h.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if h.hooks == nil {
		h.writeError(w, r, http.StatusNotFound, "no registry configured")
		return false
	}
	return true
}

// requireStore answers monitor routes when no store is configured
func (h *Handler) requireStore(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		h.writeError(w, r, http.StatusNotFound, "no monitor store configured")
		return false
	}
	return true
}

// handleEntries handles GET /v1/monitor/entries (list) and DELETE /v1/monitor/entries (cleanup)
func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		h.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleEntriesWithPath handles /v1/monitor/entries/{dispatch_id}
func (h *Handler) handleEntriesWithPath(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	dispatchID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/monitor/entries/"), "/")
	if dispatchID == "" {
		h.writeError(w, r, http.StatusBadRequest, "dispatch_id is required")
		return
	}

	entries, err := h.store.GetByDispatchID(r.Context(), dispatchID)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if len(entries) == 0 {
		h.writeError(w, r, http.StatusNotFound, "dispatch not found")
		return
	}
	h.writeResponse(w, r, http.StatusOK, EntriesResponse{Entries: entries})
}

// handleList handles GET /v1/monitor/entries with query parameters
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if page.Entries == nil {
		page.Entries = []*monitor.Entry{}
	}
	h.writeResponse(w, r, http.StatusOK, page)
}

// handleCount handles GET /v1/monitor/entries/count with query parameters
func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter, err := parseFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.store.Count(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeResponse(w, r, http.StatusOK, CountResponse{Count: count})
}

// handleDelete handles DELETE /v1/monitor/entries?older_than=1h
// By default, only entries older than 24h can be deleted.
// To delete newer entries, use force=true.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	age := DefaultDeleteAge
	if v := q.Get("older_than"); v != "" {
		var err error
		age, err = time.ParseDuration(v)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid older_than duration: "+err.Error())
			return
		}
		if age <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "older_than must be positive")
			return
		}
	}

	force := q.Get("force") == "true"
	if age < DefaultDeleteAge && !force {
		h.writeError(w, r, http.StatusBadRequest, "deleting entries newer than 24h requires force=true")
		return
	}

	deleted, err := h.store.DeleteOlderThan(r.Context(), age)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeResponse(w, r, http.StatusOK, DeleteResponse{Deleted: deleted})
}

// queryError is a malformed query parameter
type queryError struct {
	param string
	err   error
}

func (e *queryError) Error() string {
	return "invalid " + e.param + ": " + e.err.Error()
}

// parseFilterFromQuery parses monitor.Filter from URL query parameters
func parseFilterFromQuery(r *http.Request) (monitor.Filter, error) {
	q := r.URL.Query()
	filter := monitor.Filter{
		DispatchID:   q.Get("dispatch_id"),
		SubscriberID: q.Get("subscriber_id"),
		Name:         q.Get("name"),
		Kind:         hooks.Kind(q.Get("kind")),
		RegistryID:   q.Get("registry_id"),
		Cursor:       q.Get("cursor"),
	}

	for _, v := range q["status"] {
		for _, s := range strings.Split(v, ",") {
			status, ok := monitor.ParseStatus(strings.TrimSpace(s))
			if !ok {
				return filter, &queryError{param: "status", err: strconv.ErrSyntax}
			}
			filter.Status = append(filter.Status, status)
		}
	}
	if v := q.Get("has_error"); v != "" {
		hasErr, err := strconv.ParseBool(v)
		if err != nil {
			return filter, &queryError{param: "has_error", err: err}
		}
		filter.HasError = &hasErr
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, &queryError{param: "start_time", err: err}
		}
		filter.StartTime = t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, &queryError{param: "end_time", err: err}
		}
		filter.EndTime = t
	}
	if v := q.Get("min_duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return filter, &queryError{param: "min_duration", err: err}
		}
		filter.MinDuration = d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, &queryError{param: "limit", err: err}
		}
		filter.Limit = n
	}
	filter.OrderDesc = q.Get("order") == "desc"

	return filter, nil
}

func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, code int, v any) {
	codec := payload.Negotiate(r.Header.Get("Accept"))
	data, err := codec.Encode(v)
	if err != nil {
		if code == http.StatusInternalServerError {
			// the error body itself failed to encode
			http.Error(w, err.Error(), code)
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", codec.ContentType())
	w.WriteHeader(code)
	w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	h.writeResponse(w, r, code, ErrorResponse{Error: message})
}

// handleStream handles GET /v1/monitor/stream. It accepts the list query
// parameters except the pagination ones and writes one "entry" event per
// completed subscriber until the client goes away.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.broadcaster == nil {
		h.writeError(w, r, http.StatusNotFound, "no stream configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter, err := parseFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sub := h.broadcaster.Subscribe(filter)
	defer h.broadcaster.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case entry := <-sub.Entries():
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s:%s\nevent: entry\ndata: %s\n\n", entry.DispatchID, entry.SubscriberID, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
