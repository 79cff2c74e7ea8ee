package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pubworks/api/internal/authpw"
	"pubworks/api/internal/store"
)

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	payload := map[string]any{}
	if recorder.Body.Len() > 0 {
		_ = json.Unmarshal(recorder.Body.Bytes(), &payload)
	}
	return recorder, payload
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeGit{}), "*")
	handler := server.Handler()

	recorder, payload := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health = %d %v", recorder.Code, payload)
	}

	recorder, payload = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	if recorder.Code != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("ready = %d %v", recorder.Code, payload)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestRequireSessionRejectsMissingToken(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeGit{}), "*")
	recorder, payload := doRequest(t, server.Handler(), http.MethodGet, "/api/documents", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("code = %v", payload["code"])
	}
}

func TestSessionEndpointAnonymous(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, &fakeGit{}), "*")
	recorder, payload := doRequest(t, server.Handler(), http.MethodGet, "/api/session", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if payload["authenticated"] != false {
		t.Fatalf("authenticated = %v, want false", payload["authenticated"])
	}
}

func TestWorkflowActionOverHTTP(t *testing.T) {
	user := store.User{ID: "usr-1", DisplayName: "Avery", Role: "editor", WorkflowRole: "AO1"}
	fs := &fakeStore{
		ensureUserByNameFn: func(context.Context, string) (store.User, error) { return user, nil },
		getUserByIDFn:      func(context.Context, string) (store.User, error) { return user, nil },
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, Title: "Operations Manual", OwnerID: "usr-1"}, nil
		},
		getInstanceFn: func(_ context.Context, documentID string) (store.WorkflowInstance, error) {
			return store.WorkflowInstance{DocumentID: documentID, CurrentStageID: "1", Version: 3}, nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(service, "*").Handler()

	recorder, payload := doRequest(t, handler, http.MethodPost, "/api/session/login", "",
		map[string]any{"name": "Avery"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login = %d %v", recorder.Code, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}

	recorder, payload = doRequest(t, handler, http.MethodPost, "/api/documents/doc-1/workflow/actions", token,
		map[string]any{"actionId": "submit_to_pcm", "comment": "ready for review"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("action = %d %v", recorder.Code, payload)
	}
	if payload["toStageId"] != "2" {
		t.Fatalf("toStageId = %v, want 2", payload["toStageId"])
	}

	recorder, payload = doRequest(t, handler, http.MethodPost, "/api/documents/doc-1/workflow/actions", token,
		map[string]any{"comment": "missing the action"})
	if recorder.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("missing actionId = %d %v", recorder.Code, payload)
	}
}

func TestSyncReindexRequiresToken(t *testing.T) {
	service := newTestService(&fakeStore{}, &fakeGit{})
	service.cfg.SyncToken = "sync-secret"
	handler := NewHTTPServer(service, "*").Handler()

	recorder, _ := doRequest(t, handler, http.MethodPost, "/api/internal/sync/reindex", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without sync token", recorder.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/internal/sync/reindex", nil)
	req.Header.Set("x-pubworks-sync-token", "sync-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with sync token", rec.Code)
	}
}

// fakeUserStore backs the password auth service in HTTP tests.
type fakeUserStore struct {
	users  map[string]store.User // keyed by email
	resets map[string]string     // token -> user id
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]store.User{}, resets: map[string]string{}}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if user, ok := f.users[email]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	for email, user := range f.users {
		if user.ID == userID {
			user.VerificationToken = token
			f.users[email] = user
		}
	}
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for email, user := range f.users {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			f.users[email] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	for email, user := range f.users {
		if user.ID == userID {
			user.PasswordHash = passwordHash
			f.users[email] = user
		}
	}
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if userID, ok := f.resets[token]; ok {
		return userID, nil
	}
	return "", sql.ErrNoRows
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	delete(f.resets, token)
	return nil
}

func TestSignUpDevBypassAndVerify(t *testing.T) {
	service := newTestService(&fakeStore{}, &fakeGit{})
	service.SetAuthPasswordService(authpw.NewService(newFakeUserStore(), "test-secret"))
	handler := NewHTTPServer(service, "*").Handler()

	recorder, payload := doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "avery@example.com",
		"password":    "hunter2hunter2",
		"displayName": "Avery",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup = %d %v", recorder.Code, payload)
	}
	devToken, _ := payload["devVerificationToken"].(string)
	if strings.TrimSpace(devToken) == "" {
		t.Fatal("expected devVerificationToken when SMTP is not configured")
	}

	recorder, payload = doRequest(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "avery@example.com",
		"password":    "hunter2hunter2",
		"displayName": "Avery Again",
	})
	if recorder.Code != http.StatusConflict || payload["code"] != "EMAIL_EXISTS" {
		t.Fatalf("duplicate signup = %d %v", recorder.Code, payload)
	}

	recorder, _ = doRequest(t, handler, http.MethodPost, "/api/auth/verify-email", "",
		map[string]any{"token": devToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("verify = %d", recorder.Code)
	}
}
