package test_helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const queueIDLength = 16

// MockServer is an in-memory Zulip server covering the API key handshakes
// and the event queue endpoints.
type MockServer struct {
	server *httptest.Server

	mu         sync.Mutex
	users      map[string]*MockUser
	queues     map[string]*mockQueue
	nextQueue  *QueueSeed
	batches    []MockReply
	failures   map[string][]MockReply
	requestLog []RequestEntry
}

// MockUser is an account known to the server.
type MockUser struct {
	Email    string
	Password string
	APIKey   string
}

// QueueSeed fixes the id and cursor of the next registered queue.
type QueueSeed struct {
	QueueID     string
	LastEventID int64
}

// MockReply is a canned response. Events are encoded as a success batch when
// Status is zero.
type MockReply struct {
	Status int
	Body   string
	Events []map[string]any
	Delay  time.Duration
}

// RequestEntry logs incoming requests for assertions
type RequestEntry struct {
	Method    string
	Path      string
	Query     url.Values
	Form      url.Values
	User      string
	HasAuth   bool
	UserAgent string
	Timestamp time.Time
}

type mockQueue struct {
	id          string
	params      url.Values
	lastEventID int64
}

// NewMockServer starts a mock server.
func NewMockServer() *MockServer {
	ms := &MockServer{
		users:    make(map[string]*MockUser),
		queues:   make(map[string]*mockQueue),
		failures: make(map[string][]MockReply),
	}

	router := chi.NewRouter()
	router.Use(ms.logRequests)
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/fetch_api_key", ms.handleFetchAPIKey)
		r.Post("/dev_fetch_api_key", ms.handleDevFetchAPIKey)

		r.Group(func(r chi.Router) {
			r.Use(ms.requireAuth)
			r.Post("/register", ms.handleRegister)
			r.Get("/events", ms.handleEvents)
			r.Delete("/events", ms.handleDeleteQueue)
		})
	})

	ms.server = httptest.NewServer(router)
	return ms
}

// URL returns the site address of the mock server
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Client returns an HTTP client configured for the mock server
func (ms *MockServer) Client() *http.Client {
	return ms.server.Client()
}

// Close shuts down the mock server
func (ms *MockServer) Close() {
	ms.server.Close()
}

// AddUser registers an account. Once any account exists, queue endpoints
// require matching basic authentication.
func (ms *MockServer) AddUser(user MockUser) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	u := user
	ms.users[user.Email] = &u
}

// SeedNextQueue fixes the id and cursor of the next registration.
func (ms *MockServer) SeedNextQueue(seed QueueSeed) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nextQueue = &seed
}

// PushBatch appends a success batch to the poll script.
func (ms *MockServer) PushBatch(events ...map[string]any) {
	ms.PushReply(MockReply{Events: events})
}

// PushReply appends a reply to the poll script. Polls consume the script in
// order; once it is exhausted they fail with a server error.
func (ms *MockServer) PushReply(reply MockReply) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.batches = append(ms.batches, reply)
}

// FailNext makes the next request to endpoint ("register", "events", ...)
// answer with reply instead of being handled.
func (ms *MockServer) FailNext(endpoint string, reply MockReply) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failures[endpoint] = append(ms.failures[endpoint], reply)
}

// GetRequestLog returns a copy of the request log
func (ms *MockServer) GetRequestLog() []RequestEntry {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]RequestEntry(nil), ms.requestLog...)
}

// RequestsTo returns the logged requests for one endpoint path, e.g. "/api/v1/events".
func (ms *MockServer) RequestsTo(method, path string) []RequestEntry {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []RequestEntry
	for _, entry := range ms.requestLog {
		if entry.Method == method && entry.Path == path {
			out = append(out, entry)
		}
	}
	return out
}

// QueueIDs returns the ids of queues that have not been deleted.
func (ms *MockServer) QueueIDs() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ids := make([]string, 0, len(ms.queues))
	for id := range ms.queues {
		ids = append(ids, id)
	}
	return ids
}

// QueueParams returns the registration parameters of a live queue.
func (ms *MockServer) QueueParams(queueID string) (url.Values, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	q, ok := ms.queues[queueID]
	if !ok {
		return nil, false
	}
	return q.params, true
}

// Heartbeat builds a heartbeat event.
func Heartbeat(id int64) map[string]any {
	return map[string]any{"id": id, "type": "heartbeat"}
}

// MessageEvent builds a message event.
func MessageEvent(id int64, content string) map[string]any {
	return map[string]any{
		"id":   id,
		"type": "message",
		"message": map[string]any{
			"id":      1000 + id,
			"content": content,
		},
		"flags": []string{},
	}
}

// TypedEvent builds an event of any type, with an optional op.
func TypedEvent(id int64, eventType, op string) map[string]any {
	event := map[string]any{"id": id, "type": eventType}
	if op != "" {
		event["op"] = op
	}
	return event
}

// ErrorBody renders a Zulip error payload.
func ErrorBody(code, msg string, extra map[string]any) string {
	payload := map[string]any{"result": "error", "msg": msg}
	if code != "" {
		payload["code"] = code
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, _ := json.Marshal(payload)
	return string(body)
}

func (ms *MockServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ParseForm reads the body for POST/PUT/PATCH only; DELETE bodies are read here.
		if r.Method == http.MethodDelete {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			if err := parseDeleteForm(r); err != nil {
				writeJSON(w, http.StatusBadRequest, ErrorBody("BAD_REQUEST", err.Error(), nil))
				return
			}
		} else if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorBody("BAD_REQUEST", err.Error(), nil))
			return
		}

		user, _, hasAuth := r.BasicAuth()
		entry := RequestEntry{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.Query(),
			Form:      r.PostForm,
			User:      user,
			HasAuth:   hasAuth,
			UserAgent: r.UserAgent(),
			Timestamp: time.Now(),
		}

		ms.mu.Lock()
		ms.requestLog = append(ms.requestLog, entry)
		ms.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func parseDeleteForm(r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return err
	}
	r.PostForm = form
	return nil
}

func (ms *MockServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms.mu.Lock()
		open := len(ms.users) == 0
		user, pass, ok := r.BasicAuth()
		var known *MockUser
		if ok {
			known = ms.users[user]
		}
		ms.mu.Unlock()

		if open || (known != nil && known.APIKey == pass) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, ErrorBody("UNAUTHORIZED", "Invalid API key", nil))
	})
}

// injected answers with a pending failure for endpoint, if any.
func (ms *MockServer) injected(w http.ResponseWriter, endpoint string) bool {
	ms.mu.Lock()
	pending := ms.failures[endpoint]
	if len(pending) == 0 {
		ms.mu.Unlock()
		return false
	}
	reply := pending[0]
	ms.failures[endpoint] = pending[1:]
	ms.mu.Unlock()

	writeReply(w, reply)
	return true
}

func (ms *MockServer) handleFetchAPIKey(w http.ResponseWriter, r *http.Request) {
	if ms.injected(w, "fetch_api_key") {
		return
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	ms.mu.Lock()
	user := ms.users[username]
	ms.mu.Unlock()

	if user == nil || user.Password == "" || user.Password != password {
		writeJSON(w, http.StatusUnauthorized, ErrorBody("AUTHENTICATION_FAILED", "Your username or password is incorrect", nil))
		return
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"result":"success","msg":"","email":%q,"api_key":%q}`, user.Email, user.APIKey))
}

func (ms *MockServer) handleDevFetchAPIKey(w http.ResponseWriter, r *http.Request) {
	if ms.injected(w, "dev_fetch_api_key") {
		return
	}

	username := r.PostForm.Get("username")

	ms.mu.Lock()
	user := ms.users[username]
	ms.mu.Unlock()

	if user == nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody("BAD_REQUEST", "This user is not registered.", nil))
		return
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"result":"success","msg":"","email":%q,"api_key":%q}`, user.Email, user.APIKey))
}

func (ms *MockServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if ms.injected(w, "register") {
		return
	}

	if raw := r.PostForm.Get("event_types"); raw != "" {
		var eventTypes []string
		if err := json.Unmarshal([]byte(raw), &eventTypes); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorBody("BAD_REQUEST", "Argument \"event_types\" is not valid JSON.", nil))
			return
		}
	}
	if raw := r.PostForm.Get("narrow"); raw != "" {
		var narrow [][2]string
		if err := json.Unmarshal([]byte(raw), &narrow); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorBody("BAD_REQUEST", "Invalid narrow", nil))
			return
		}
	}

	ms.mu.Lock()
	q := &mockQueue{params: r.PostForm, lastEventID: -1}
	if ms.nextQueue != nil {
		q.id = ms.nextQueue.QueueID
		q.lastEventID = ms.nextQueue.LastEventID
		ms.nextQueue = nil
	} else {
		q.id = nanoid.MustGenerate("0123456789abcdef", queueIDLength)
	}
	ms.queues[q.id] = q
	ms.mu.Unlock()

	writeJSON(w, http.StatusOK, fmt.Sprintf(
		`{"result":"success","msg":"","queue_id":%q,"last_event_id":%d,"zulip_version":"9.0","zulip_feature_level":278,"zulip_merge_base":"9.0","max_message_id":1000,"event_queue_longpoll_timeout_seconds":90}`,
		q.id, q.lastEventID,
	))
}

func (ms *MockServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if ms.injected(w, "events") {
		return
	}

	queueID := r.URL.Query().Get("queue_id")
	lastEventID, err := strconv.ParseInt(r.URL.Query().Get("last_event_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody("REQUEST_VARIABLE_MISSING", "Missing 'last_event_id' argument", map[string]any{"var_name": "last_event_id"}))
		return
	}

	ms.mu.Lock()
	q, ok := ms.queues[queueID]
	if !ok {
		ms.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, ErrorBody("BAD_EVENT_QUEUE_ID", "Bad event queue ID: "+queueID, map[string]any{"queue_id": queueID}))
		return
	}
	q.lastEventID = lastEventID
	if len(ms.batches) == 0 {
		ms.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, ErrorBody("", "no scripted events", nil))
		return
	}
	reply := ms.batches[0]
	ms.batches = ms.batches[1:]
	ms.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}
	writeReply(w, reply)
}

func (ms *MockServer) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	if ms.injected(w, "delete_events") {
		return
	}

	queueID := r.PostForm.Get("queue_id")

	ms.mu.Lock()
	_, ok := ms.queues[queueID]
	delete(ms.queues, queueID)
	ms.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorBody("BAD_EVENT_QUEUE_ID", "Bad event queue ID: "+queueID, map[string]any{"queue_id": queueID}))
		return
	}
	writeJSON(w, http.StatusOK, `{"result":"success","msg":""}`)
}

func writeReply(w http.ResponseWriter, reply MockReply) {
	if reply.Status == 0 {
		events := reply.Events
		if events == nil {
			events = []map[string]any{}
		}
		body, _ := json.Marshal(map[string]any{"result": "success", "msg": "", "events": events})
		writeJSON(w, http.StatusOK, string(body))
		return
	}
	writeJSON(w, reply.Status, reply.Body)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
