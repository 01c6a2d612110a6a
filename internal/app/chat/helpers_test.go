package chat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"naberya/internal/app/community"
)

// fakeSink records frames queued for a connection.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func (f *fakeSink) Enqueue(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	if f.full {
		f.closed = true
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSink) envelopes(t *testing.T) []Envelope {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	envs := make([]Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("sink received invalid frame %s: %v", frame, err)
		}
		envs = append(envs, env)
	}
	return envs
}

// ofType returns the envelopes of one event type in delivery order.
func (f *fakeSink) ofType(t *testing.T, event EventType) []Envelope {
	t.Helper()

	var matched []Envelope
	for _, env := range f.envelopes(t) {
		if env.Type == event {
			matched = append(matched, env)
		}
	}
	return matched
}

// last returns the most recent envelope of an event type, failing the test if none arrived.
func (f *fakeSink) last(t *testing.T, event EventType) Envelope {
	t.Helper()

	matched := f.ofType(t, event)
	if len(matched) == 0 {
		t.Fatalf("no %q event received; got %v", event, f.types(t))
	}
	return matched[len(matched)-1]
}

func (f *fakeSink) types(t *testing.T) []EventType {
	t.Helper()

	var types []EventType
	for _, env := range f.envelopes(t) {
		types = append(types, env.Type)
	}
	return types
}

func (f *fakeSink) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func payloadOf[T any](t *testing.T, env Envelope) T {
	t.Helper()

	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("failed to decode %q payload %s: %v", env.Type, env.Payload, err)
	}
	return payload
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return newCoordinatorWith(t, newTestService())
}

func newTestService() *community.Service {
	return community.NewService(
		community.NewMemoryRepository(),
		community.BcryptHasher{Cost: bcrypt.MinCost},
		community.Options{
			HistoryLimit:  50,
			AvatarBaseURL: "https://api.dicebear.com/9.x/avataaars/svg",
			IconBaseURL:   "https://ui-avatars.com/api/",
		},
	)
}

// newCoordinatorWith builds a coordinator on top of domain.
func newCoordinatorWith(t *testing.T, domain Domain) *Coordinator {
	t.Helper()

	co := NewCoordinator(domain, Options{
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { co.cancel() })
	return co
}

func connect(t *testing.T, co *Coordinator) (*Session, *fakeSink) {
	t.Helper()

	sink := &fakeSink{}
	s, err := co.Connect(sink)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return s, sink
}

func emit(t *testing.T, s *Session, event EventType, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	frame, err := json.Marshal(Envelope{Type: event, Payload: raw})
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	s.HandleFrame(frame)
}

// registerUser connects and registers a user, returning the session, its sink and the user id.
func registerUser(t *testing.T, co *Coordinator, username string) (*Session, *fakeSink, string) {
	t.Helper()

	s, sink := connect(t, co)
	emit(t, s, EventRegister, CredentialsPayload{Username: username, Password: "secret123"})

	success := payloadOf[AuthSuccessPayload](t, sink.last(t, EventAuthSuccess))
	return s, sink, success.User.ID
}

// testConn registers a bare connection on a registry for index and relay tests.
func testConn(t *testing.T, registry *Registry, username string) (*Connection, *fakeSink) {
	t.Helper()

	sink := &fakeSink{}
	conn, err := registry.Register(sink)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if username != "" {
		if err := registry.BindIdentity(conn.ID, Identity{UserID: "user-" + username, Username: username}); err != nil {
			t.Fatalf("BindIdentity failed: %v", err)
		}
	}
	return conn, sink
}
