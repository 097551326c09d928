package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codehive/backend/internal/infrastructure/logging"
	"github.com/codehive/backend/internal/infrastructure/monitoring"
	"github.com/codehive/backend/internal/presence"
	"github.com/codehive/backend/internal/terminal"
)

type openAccess struct{}

func (openAccess) CheckProjectAccess(context.Context, string, string) (bool, error) {
	return true, nil
}

type noopRecorder struct{}

func (noopRecorder) TerminalStarted(context.Context, terminal.Record) error { return nil }
func (noopRecorder) TerminalExited(context.Context, string, int) error      { return nil }
func (noopRecorder) TerminalClosed(context.Context, string) error           { return nil }

type stubChannel struct {
	id, userID, username string
}

func (s *stubChannel) ID() string       { return s.id }
func (s *stubChannel) UserID() string   { return s.userID }
func (s *stubChannel) Username() string { return s.username }
func (s *stubChannel) Send([]byte) bool { return true }
func (s *stubChannel) Close()           {}

func newTestRouter(t *testing.T) (*gin.Engine, *presence.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logging.NewDefault()
	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	registry := presence.NewRegistry(openAccess{}, metrics, log)
	terminals := terminal.NewManager(terminal.Config{
		Shell:         "/bin/sh",
		WorkspaceRoot: t.TempDir(),
	}, openAccess{}, noopRecorder{}, metrics, log)

	handlers := NewHandlers(registry, terminals, "test")
	router := gin.New()
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.Status)
	return router, registry
}

func doGET(t *testing.T, router *gin.Engine, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestRoot(t *testing.T) {
	router, _ := newTestRouter(t)

	code, body := doGET(t, router, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "codehive-collab-server", body["service"])
	assert.Equal(t, "running", body["status"])
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	code, body := doGET(t, router, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusSnapshot(t *testing.T) {
	router, registry := newTestRouter(t)

	require.NoError(t, registry.Register(&stubChannel{id: "conn_a", userID: "alice", username: "alice"}))
	require.NoError(t, registry.Register(&stubChannel{id: "conn_b", userID: "bob", username: "bob"}))
	_, err := registry.Join(context.Background(), "conn_a", "proj-1")
	require.NoError(t, err)

	code, body := doGET(t, router, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["channels"])

	rooms := body["rooms"].(map[string]interface{})
	assert.Equal(t, float64(1), rooms["proj-1"])
	assert.Empty(t, body["terminals"])
}
