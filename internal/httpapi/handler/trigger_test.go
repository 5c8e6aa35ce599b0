package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/ErlanBelekov/durably/internal/durably"
	"github.com/ErlanBelekov/durably/internal/httpapi"
	"github.com/ErlanBelekov/durably/internal/httpapi/handler"
	"github.com/ErlanBelekov/durably/internal/httpapi/token"
	"github.com/ErlanBelekov/durably/internal/registry"
	"github.com/ErlanBelekov/durably/internal/storage/sqlite"
	"github.com/ErlanBelekov/durably/internal/stepctx"
	"github.com/ErlanBelekov/durably/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testAdminKey = []byte("test-admin-secret")

type pingInput struct {
	Name string `json:"name" validate:"required"`
}

type pingOutput struct {
	Message string `json:"message"`
}

// newTestServer wires a real facade against an in-memory database, the way
// an end-to-end smoke test would, rather than faking the handler's
// dependencies (Handler holds a concrete *durably.Facade, not an interface).
func newTestServer(t *testing.T) (*gin.Engine, *durably.Facade) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	facade := durably.New(db, durably.Options{
		Logger: logger,
		WorkerConfig: worker.Config{
			PollingInterval:   5_000_000,  // 5ms in ns
			HeartbeatInterval: 20_000_000, // 20ms in ns
			StaleThreshold:    60_000_000_000,
		},
	})

	if _, err := registry.Register(facade.Registry, "ping", func(ctx *stepctx.Context, in pingInput) (pingOutput, error) {
		return pingOutput{Message: "pong " + in.Name}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := facade.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(facade.Stop)

	h := handler.New(facade, facade.Registry, testAdminKey, 0, logger)
	r := httpapi.NewRouter(logger, h, testAdminKey)
	return r, facade
}

func doRequest(r *gin.Engine, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestTrigger_NoAdminToken_Returns401(t *testing.T) {
	r, _ := newTestServer(t)

	w := doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ping","input":{"name":"Ada"}}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestTrigger_UnknownJob_Returns404(t *testing.T) {
	r, _ := newTestServer(t)

	token, err := mintAdmin(t)
	if err != nil {
		t.Fatalf("mint admin: %v", err)
	}
	w := doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ghost","input":{}}`,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404, body=%s", w.Code, w.Body.String())
	}
}

func TestTrigger_ValidRequest_ReturnsRunIDAndSubscribeToken(t *testing.T) {
	r, _ := newTestServer(t)

	token, err := mintAdmin(t)
	if err != nil {
		t.Fatalf("mint admin: %v", err)
	}
	w := doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ping","input":{"name":"Ada"}}`,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		RunID          string `json:"runId"`
		SubscribeToken string `json:"subscribeToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RunID == "" {
		t.Error("runId is empty")
	}
	if resp.SubscribeToken == "" {
		t.Error("subscribeToken is empty")
	}
}

func TestTrigger_InvalidInput_Returns400(t *testing.T) {
	r, _ := newTestServer(t)

	token, err := mintAdmin(t)
	if err != nil {
		t.Fatalf("mint admin: %v", err)
	}
	w := doRequest(r, http.MethodPost, "/trigger", `{"jobName":"ping","input":{}}`,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (missing required name field)", w.Code)
	}
}

func mintAdmin(t *testing.T) (string, error) {
	t.Helper()
	return token.MintAdmin(testAdminKey, time.Hour)
}
