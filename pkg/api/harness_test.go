package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/approval"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/middleware"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage/objectstore"
	"github.com/platinummonkey/opsdesk/pkg/storage/storagetest"
)

var (
	testSecret = []byte("test-secret-with-enough-entropy!")
	testIssuer = "opsdesk-test"
)

// memObjects is an in-memory object store
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted chan string
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		deleted: make(chan string, 16),
	}
}

func (m *memObjects) Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return int64(len(data)), nil
}

func (m *memObjects) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return &objectstore.Object{Body: io.NopCloser(bytes.NewReader(data)), ContentType: m.types[key], Size: int64(len(data))}, nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	m.deleted <- key
	return nil
}

func (m *memObjects) HealthCheck(ctx context.Context) error { return nil }

func (m *memObjects) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type harness struct {
	t       *testing.T
	store   *storagetest.Store
	objects *memObjects
	hub     *broadcast.Hub
	metrics *observability.Metrics
	deps    Deps
	server  *Server
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()

	store := storagetest.New()
	objects := newMemObjects()
	metrics := observability.NewUnregisteredMetrics()
	hub := broadcast.NewHub(metrics)
	policy := auth.DefaultPolicy()
	recorder := activity.NewRecorder(store.Activity, metrics)

	deps := Deps{
		Stores: Stores{
			Profiles:    store.Profiles,
			Employees:   store.Employees,
			Projects:    store.Projects,
			Tasks:       store.Tasks,
			Submissions: store.Submissions,
			Jobs:        store.Jobs,
			Comments:    store.Comments,
			Attachments: store.Attachments,
			Contacts:    store.Contacts,
			Emails:      store.Emails,
			Activity:    store.Activity,
			Relations:   store.Relations,
		},
		Objects:           objects,
		Approvals:         approval.NewService(store.Submissions, store.Projects, recorder, hub, metrics),
		Hub:               hub,
		Recorder:          recorder,
		Gate:              rbac.NewGate(auth.NewJWTResolver(testSecret, testIssuer, "", policy), policy, metrics),
		Ownership:         rbac.NewOwnership(store.Relations),
		Metrics:           metrics,
		Logger:            observability.NopLogger(),
		SessionTTL:        time.Hour,
		HeartbeatInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &harness{
		t:       t,
		store:   store,
		objects: objects,
		hub:     hub,
		metrics: metrics,
		deps:    deps,
		server:  NewServer(deps),
	}
}

// newCallers identifies request callers with the same resolver as the gate
func newCallers(t *testing.T) *middleware.Callers {
	t.Helper()
	callers, err := middleware.NewCallers(auth.NewJWTResolver(testSecret, testIssuer, "", auth.DefaultPolicy()), "", nil)
	require.NoError(t, err)
	return callers
}

// token issues a session for a new user with role
func (h *harness) token(role auth.Role, extra ...auth.Permission) (string, uuid.UUID) {
	h.t.Helper()
	id := uuid.New()
	return h.tokenFor(id, role, extra...), id
}

func (h *harness) tokenFor(id uuid.UUID, role auth.Role, extra ...auth.Permission) string {
	h.t.Helper()
	tok, err := auth.IssueToken(testSecret, testIssuer, &auth.User{ID: id.String(), Email: "u@example.com", Role: role}, time.Hour, extra...)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) request(method, path, token string, body interface{}) *http.Request {
	h.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.serve(h.request(method, path, token, body))
}

// data decodes the success envelope into dest
func data(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dest), rec.Body.String())
}

type errorBody struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}
