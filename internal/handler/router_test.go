package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"naberya/internal/app/chat"
	"naberya/internal/app/community"
	"naberya/internal/app/storage"
	"naberya/internal/configs"
	"naberya/internal/pkg/errs"
	"naberya/internal/pkg/resp"
)

// memStore is an in-memory storage.StorageService.
type memStore struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectInfo
}

func (m *memStore) put(key string, info storage.ObjectInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = info
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *memStore) PresignUpload(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key, nil
}

func (m *memStore) Upload(_ context.Context, key, mimeType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.put(key, storage.ObjectInfo{ContentType: mimeType, Size: int64(len(data))})
	return nil
}

func (m *memStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return info, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}

func (m *memStore) PublicURL(key string) string { return "https://cdn.example/" + key }

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()

	cfg := &configs.AppConfig{
		Environment:    "development",
		JWTSecret:      "test-secret",
		HistoryLimit:   configs.DefaultHistoryLimit,
		RequestTimeout: 5 * time.Second,
	}

	service := community.NewService(
		community.NewMemoryRepository(),
		community.BcryptHasher{Cost: bcrypt.MinCost},
		community.Options{HistoryLimit: cfg.HistoryLimit, AvatarBaseURL: "https://avatars.example/svg"},
	)

	co := chat.NewCoordinator(service, chat.Options{JWTSecret: cfg.JWTSecret, RequestTimeout: cfg.RequestTimeout})
	store := &memStore{objects: make(map[string]storage.ObjectInfo)}

	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(Router(ctx, &AppDeps{
		Coordinator: co,
		Service:     service,
		Config:      cfg,
		Avatars:     storage.NewAvatars(store),
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return server, store
}

func decodeResponse[T any](t *testing.T, res *http.Response) (int, T) {
	t.Helper()
	defer res.Body.Close()

	var body struct {
		resp.JSONResponse
		Data T `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body.Code, body.Data
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return res
}

func register(t *testing.T, server *httptest.Server, username string) AuthResponse {
	t.Helper()

	code, auth := decodeResponse[AuthResponse](t, postJSON(t, server.URL+"/api/auth/register", "",
		CredentialsInput{Username: username, Password: "secret123"}))
	if code != 0 || auth.Token == "" {
		t.Fatalf("register failed with code %d", code)
	}
	return auth
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	res, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	code, data := decodeResponse[map[string]any](t, res)
	if code != 0 || data["status"] != "ok" {
		t.Fatalf("unexpected health response: code=%d data=%v", code, data)
	}
}

func TestRegisterLoginAndProfile(t *testing.T) {
	server, _ := newTestServer(t)

	auth := register(t, server, "ayse")
	if auth.User.Username != "ayse" || auth.User.Avatar == "" {
		t.Fatalf("unexpected user %+v", auth.User)
	}

	code, _ := decodeResponse[AuthResponse](t, postJSON(t, server.URL+"/api/auth/register", "",
		CredentialsInput{Username: "ayse", Password: "secret123"}))
	if code != errs.ErrUserAlreadyExists {
		t.Fatalf("expected ErrUserAlreadyExists, got %d", code)
	}

	code, _ = decodeResponse[AuthResponse](t, postJSON(t, server.URL+"/api/auth/login", "",
		CredentialsInput{Username: "ayse", Password: "wrong"}))
	if code != errs.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %d", code)
	}

	code, _ = decodeResponse[AuthResponse](t, postJSON(t, server.URL+"/api/auth/login", auth.Token,
		CredentialsInput{Username: "ayse", Password: "secret123"}))
	if code != errs.ErrAlreadyLoggedIn {
		t.Fatalf("expected ErrAlreadyLoggedIn, got %d", code)
	}

	code, login := decodeResponse[AuthResponse](t, postJSON(t, server.URL+"/api/auth/login", "",
		CredentialsInput{Username: "ayse", Password: "secret123"}))
	if code != 0 || login.User.ID != auth.User.ID {
		t.Fatalf("login failed with code %d", code)
	}

	request, _ := http.NewRequest(http.MethodGet, server.URL+"/api/user/profile", nil)
	request.Header.Set("Authorization", "Bearer "+login.Token)
	res, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	code, profile := decodeResponse[map[string]json.RawMessage](t, res)
	if code != 0 || !strings.Contains(string(profile["user"]), auth.User.ID) {
		t.Fatalf("unexpected profile response: code=%d", code)
	}

	res, err = http.Get(server.URL + "/api/user/profile")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if code, _ := decodeResponse[any](t, res); code != errs.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for anonymous profile, got %d", code)
	}
}

func TestAvatarPresignAndConfirm(t *testing.T) {
	server, store := newTestServer(t)
	auth := register(t, server, "ayse")

	code, upload := decodeResponse[storage.AvatarUpload](t, postJSON(t, server.URL+"/api/user/avatar/presign", auth.Token,
		PresignAvatarInput{FileName: "me.png", MimeType: "image/png", FileSize: 1024}))
	if code != 0 || !strings.HasPrefix(upload.Key, "avatars/"+auth.User.ID+"/") {
		t.Fatalf("unexpected presign response: code=%d key=%q", code, upload.Key)
	}

	code, _ = decodeResponse[AuthResponse](t, postJSON(t, server.URL+"/api/user/avatar", auth.Token,
		ConfirmAvatarInput{Key: upload.Key}))
	if code != errs.ErrInvalidParams {
		t.Fatalf("confirming a missing object should fail, got %d", code)
	}

	store.put(upload.Key, storage.ObjectInfo{ContentType: "image/png", Size: 1024})

	code, confirmed := decodeResponse[AuthResponse](t, postJSON(t, server.URL+"/api/user/avatar", auth.Token,
		ConfirmAvatarInput{Key: upload.Key}))
	if code != 0 || confirmed.User.Avatar != "https://cdn.example/"+upload.Key || confirmed.Token == "" {
		t.Fatalf("unexpected confirm response: code=%d user=%+v", code, confirmed.User)
	}
}

func TestAvatarUpload(t *testing.T) {
	server, store := newTestServer(t)
	auth := register(t, server, "ayse")

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="avatar"; filename="me.png"`},
		"Content-Type":        {"image/png"},
	})
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	part.Write([]byte("\x89PNG fake image"))
	writer.Close()

	request, _ := http.NewRequest(http.MethodPost, server.URL+"/api/user/avatar/upload", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+auth.Token)

	res, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	code, uploaded := decodeResponse[AuthResponse](t, res)
	if code != 0 || !strings.HasPrefix(uploaded.User.Avatar, "https://cdn.example/avatars/"+auth.User.ID+"/") {
		t.Fatalf("unexpected upload response: code=%d user=%+v", code, uploaded.User)
	}
	if n := store.count(); n != 1 {
		t.Fatalf("expected 1 stored object, got %d", n)
	}
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event chat.EventType, payload any) {
	t.Helper()

	raw, _ := json.Marshal(payload)
	if err := conn.WriteJSON(chat.Envelope{Type: event, Payload: raw}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// expect reads frames until one of the given type arrives.
func expect(t *testing.T, conn *websocket.Conn, event chat.EventType) chat.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var env chat.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if env.Type == event {
			return env
		}
	}
}

func TestWebSocketChat(t *testing.T) {
	server, _ := newTestServer(t)

	ayse := dial(t, server)
	mehmet := dial(t, server)

	send(t, ayse, chat.EventRegister, chat.CredentialsPayload{Username: "ayse", Password: "secret123"})
	expect(t, ayse, chat.EventAuthSuccess)
	if servers := expect(t, ayse, chat.EventLoadServers); string(servers.Payload) != "[]" {
		t.Fatalf("expected no servers, got %s", servers.Payload)
	}

	send(t, mehmet, chat.EventRegister, chat.CredentialsPayload{Username: "mehmet", Password: "secret123"})
	expect(t, mehmet, chat.EventAuthSuccess)

	send(t, ayse, chat.EventCreateServer, chat.CreateServerPayload{Name: "Takım"})
	var detail community.ServerDetail
	if err := json.Unmarshal(expect(t, ayse, chat.EventServerCreated).Payload, &detail); err != nil {
		t.Fatalf("bad server-created payload: %v", err)
	}

	send(t, mehmet, chat.EventJoinByCode, chat.JoinByCodePayload{Code: detail.InviteCode})
	expect(t, mehmet, chat.EventServerJoined)

	var text community.Channel
	for _, ch := range detail.Channels {
		if ch.Kind == community.ChannelText {
			text = ch
		}
	}

	send(t, ayse, chat.EventJoinChannel, chat.ChannelPayload{ChannelID: text.ID})
	expect(t, ayse, chat.EventLoadMessages)
	send(t, mehmet, chat.EventJoinChannel, chat.ChannelPayload{ChannelID: text.ID})
	expect(t, mehmet, chat.EventLoadMessages)

	send(t, mehmet, chat.EventSendMessage, chat.SendMessagePayload{ChannelID: text.ID, Content: "merhaba"})

	for _, conn := range []*websocket.Conn{ayse, mehmet} {
		var msg community.Message
		if err := json.Unmarshal(expect(t, conn, chat.EventNewMessage).Payload, &msg); err != nil {
			t.Fatalf("bad new-message payload: %v", err)
		}
		if msg.Content != "merhaba" || msg.SenderName != "mehmet" {
			t.Fatalf("unexpected message %+v", msg)
		}
	}
}

func TestWebSocketRejectsGarbage(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var payload chat.ErrorPayload
	if err := json.Unmarshal(expect(t, conn, chat.EventError).Payload, &payload); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if payload.Code != errs.ErrInvalidJSONFormat {
		t.Fatalf("expected ErrInvalidJSONFormat, got %d", payload.Code)
	}

	// The connection stays usable.
	send(t, conn, chat.EventLogin, chat.CredentialsPayload{Username: "nobody", Password: "secret123"})
	if err := json.Unmarshal(expect(t, conn, chat.EventAuthError).Payload, &payload); err != nil {
		t.Fatalf("bad auth-error payload: %v", err)
	}
	if payload.Code != errs.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %d", payload.Code)
	}
}
