package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/alerting"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct{}

func (staticTokens) APIKey() string               { return "key-1" }
func (staticTokens) ServerToken() (string, error) { return "server-jwt", nil }

type recorded struct {
	Path   string
	APIKey string
	Auth   string
	Body   map[string]any
}

func newAPI(t *testing.T, status int) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, recorded{
			Path:   r.URL.Path,
			APIKey: r.URL.Query().Get("api_key"),
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func TestJoinAndNotify(t *testing.T) {
	srv, calls := newAPI(t, http.StatusOK)
	c := NewClient(staticTokens{}, Options{BaseURL: srv.URL}, zerolog.Nop())

	h, err := c.Join(context.Background(), "default", "security-demo-1",
		User{ID: "security-bot", Name: "Security Bot", Role: "admin"}, "security_agent")
	require.NoError(t, err)
	h.WithPayload(alerting.CustomPayload)

	err = h.Notify(context.Background(), models.AlertEvent{
		Message:   "Person detected",
		Timestamp: time.Unix(1700000000, 0),
	})
	require.NoError(t, err)

	got := calls()
	require.Len(t, got, 2)
	join := got[0]
	assert.Equal(t, "/api/v2/video/call/default/security-demo-1", join.Path)
	assert.Equal(t, "key-1", join.APIKey)
	assert.Equal(t, "server-jwt", join.Auth)
	createdBy := join.Body["data"].(map[string]any)["created_by"].(map[string]any)
	assert.Equal(t, "security-bot", createdBy["id"])
	assert.Equal(t, "admin", createdBy["role"])

	event := got[1]
	assert.Equal(t, "/api/v2/video/call/default/security-demo-1/event", event.Path)
	assert.Equal(t, "security_agent", event.Body["user_id"])
	custom := event.Body["custom"].(map[string]any)
	assert.Equal(t, "intrusion_alert", custom["custom_type"])
	assert.Equal(t, float64(1700000000), custom["data"].(map[string]any)["timestamp"])
}

func TestSendEventError(t *testing.T) {
	srv, _ := newAPI(t, http.StatusForbidden)
	c := NewClient(staticTokens{}, Options{BaseURL: srv.URL}, zerolog.Nop())

	err := c.SendEvent(context.Background(), "default", "x", "bot", map[string]any{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestNotifyWithoutJoin(t *testing.T) {
	var h *Handle
	assert.ErrorIs(t, h.Notify(context.Background(), models.AlertEvent{}), ErrNotJoined)
}

func TestJoinerReturnsNotifier(t *testing.T) {
	srv, calls := newAPI(t, http.StatusCreated)
	j := Joiner{
		Client:    NewClient(staticTokens{}, Options{BaseURL: srv.URL}, zerolog.Nop()),
		CreatedBy: User{ID: "security-bot"},
		SenderID:  "security_agent",
		Payload:   alerting.EventPayload,
	}

	n, err := j.JoinCall(context.Background(), "default", "lobby")
	require.NoError(t, err)
	assert.Equal(t, "call", n.Name())

	require.NoError(t, n.Notify(context.Background(), models.AlertEvent{Trigger: "intrusion", Count: 4}))
	got := calls()
	require.Len(t, got, 2)
	custom := got[1].Body["custom"].(map[string]any)
	assert.Equal(t, "intrusion", custom["trigger"])
	assert.Equal(t, float64(4), custom["count"])
}
