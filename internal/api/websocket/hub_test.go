package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/llll-robotics/llll/internal/auth"
	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/session"
	"github.com/llll-robotics/llll/internal/types"
)

func startHub(t *testing.T, authService *auth.AuthService) (*Hub, *session.Streamer, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(zaptest.NewLogger(t), authService)
	streamer := session.NewStreamer()
	go hub.Run(ctx)
	hub.Forward(ctx, streamer)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	return hub, streamer, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type MessageType `json:"type"`
	Data SessionData `json:"data"`
}

func readMessage(t *testing.T, conn *gorilla.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func openAuth() *auth.AuthService {
	return auth.NewAuthService(config.AuthConfig{JWTSecretEnv: "LLLL_UNSET_SECRET_FOR_TEST"})
}

func TestForwardsSessionEvents(t *testing.T) {
	hub, streamer, url := startHub(t, openAuth())
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	streamer.Publish(&session.Event{SessionID: "s1", Device: "Technic Hub", Type: session.EventState,
		State: types.StateRunning, Previous: types.StateUploading, Time: time.Now()})
	streamer.Publish(&session.Event{SessionID: "s1", Device: "Technic Hub", Type: session.EventOutput,
		Line: "Motor rotated 360 degrees", Time: time.Now()})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeSessionState, msg.Type)
	assert.Equal(t, types.StateRunning, msg.Data.State)
	assert.Equal(t, types.StateUploading, msg.Data.Previous)

	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeSessionOutput, msg.Type)
	assert.Equal(t, "Motor rotated 360 degrees", msg.Data.Line)
}

func TestSubscribeFiltersByDevice(t *testing.T) {
	hub, streamer, url := startHub(t, openAuth())
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "device": "Prime Hub"}))
	assert.Equal(t, MessageTypeSubscribed, readMessage(t, conn).Type)

	streamer.Publish(&session.Event{SessionID: "s1", Device: "Technic Hub", Type: session.EventOutput, Line: "skip", Time: time.Now()})
	streamer.Publish(&session.Event{SessionID: "s2", Device: "Prime Hub", Type: session.EventOutput, Line: "keep", Time: time.Now()})

	msg := readMessage(t, conn)
	assert.Equal(t, "keep", msg.Data.Line)
}

func TestRequiresAuthWhenEnabled(t *testing.T) {
	t.Setenv("LLLL_WS_TEST_SECRET", "s3cret")
	authService := auth.NewAuthService(config.AuthConfig{JWTSecretEnv: "LLLL_WS_TEST_SECRET", TokenTTL: time.Hour})
	hub, _, url := startHub(t, authService)

	bad := dial(t, url)
	require.NoError(t, bad.WriteJSON(map[string]string{"type": "auth", "token": "nope"}))
	assert.Equal(t, MessageTypeAuthFailed, readMessage(t, bad).Type)
	assert.Zero(t, hub.GetClientCount())

	token, err := authService.IssueToken("dashboard", auth.RoleOperator)
	require.NoError(t, err)

	good := dial(t, url)
	require.NoError(t, good.WriteJSON(map[string]string{"type": "auth", "token": token}))
	assert.Equal(t, MessageTypeAuthSuccess, readMessage(t, good).Type)
	assert.Equal(t, 1, hub.GetClientCount())
}
