package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SridarDhandapani/onvif"
	"github.com/SridarDhandapani/onvif/config"
	"github.com/SridarDhandapani/onvif/onviftest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv   *Server
	lobby *onviftest.Camera
	yard  *onviftest.Camera
}

// newFixture serves a ready camera "lobby" and a camera "yard" whose
// initialization never completes.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	lobby := onviftest.NewCamera("192.168.1.5", "Prof_1")
	t.Cleanup(lobby.Close)
	yard := onviftest.NewCamera("192.168.1.6", "Prof_Y")
	t.Cleanup(yard.Close)
	yard.Hold(onviftest.OpGetCapabilities)

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.PTZ.StopDelay = 50 * time.Millisecond
	cfg.PTZ.Timeout = 2 * time.Second
	cfg.Cameras = []config.Camera{
		{Name: "lobby", Host: lobby.Host(), Port: lobby.Port(), Username: "admin", Password: "secret"},
		{Name: "yard", Host: yard.Host(), Port: yard.Port(), RTSPURL: "rtsp://192.168.1.6:554/live"},
	}

	srv := New(cfg, zerolog.Nop())
	t.Cleanup(func() { srv.Shutdown() })

	ctrl, ok := srv.Controller("lobby")
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := ctrl.WaitReady(ctx)
	require.NoError(t, err)

	return &fixture{srv: srv, lobby: lobby, yard: yard}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 2, body["cameras"])
}

func TestListCameras(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/cameras")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Cameras []CameraStatus `json:"cameras"`
	}
	decode(t, w, &body)
	require.Len(t, body.Cameras, 2)

	assert.Equal(t, "lobby", body.Cameras[0].Name)
	assert.Equal(t, "ready", body.Cameras[0].Phase)
	assert.Equal(t, "Prof_1", body.Cameras[0].Token)
	assert.True(t, strings.HasSuffix(body.Cameras[0].PTZURL, onvif.PTZServicePath))

	assert.Equal(t, "yard", body.Cameras[1].Name)
	assert.NotEqual(t, "ready", body.Cameras[1].Phase)
	assert.Empty(t, body.Cameras[1].Token)
}

func TestGetCamera(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/cameras/lobby")
	require.Equal(t, http.StatusOK, w.Code)
	var st CameraStatus
	decode(t, w, &st)
	assert.Equal(t, "lobby", st.Name)
	assert.Equal(t, f.lobby.Server.Listener.Addr().String(), st.Address)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/cameras/garage").Code)
}

func TestMove(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/cameras/lobby/move/up")
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "up", body["direction"])
	assert.Equal(t, "(0, 1, 0)", body["vector"])

	assert.Eventually(t, func() bool {
		return f.lobby.Count(onviftest.OpContinuousMove) == 1 && f.lobby.Count(onviftest.OpStop) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMoveErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown direction", "/api/cameras/lobby/move/sideways", http.StatusBadRequest},
		{"unknown camera", "/api/cameras/garage/move/up", http.StatusNotFound},
		{"camera not ready", "/api/cameras/yard/move/zoom_in", http.StatusConflict},
		{"stop not ready", "/api/cameras/yard/stop", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, http.MethodPost, tt.path).Code)
		})
	}

	assert.Zero(t, f.lobby.Count(onviftest.OpContinuousMove))
	assert.Zero(t, f.yard.Count(onviftest.OpContinuousMove))
}

func TestStop(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/cameras/lobby/stop").Code)
	assert.Eventually(t, func() bool {
		return f.lobby.Count(onviftest.OpStop) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDeviceInfo(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/cameras/lobby/info")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "Acme PTZ-2000", body["name"])
	assert.Equal(t, "1.2.3", body["firmware"])

	f.lobby.SetReply(onviftest.OpGetDeviceInformation, onviftest.Reply{Status: http.StatusUnauthorized})
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/cameras/lobby/info").Code)
}

func TestStream(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/cameras/lobby/stream")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "rtsp://192.168.1.5:554/stream1", body["uri"])
	assert.Equal(t, "device", body["source"])

	w = f.do(t, http.MethodGet, "/api/cameras/yard/stream")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, "rtsp://192.168.1.6:554/live", body["uri"])
	assert.Equal(t, "config", body["source"])
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t)

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return f.srv.Hub().Subscribers() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/cameras/yard/move/left").Code)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev onvif.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, onvif.LevelError, ev.Level)
	assert.Equal(t, "No PTZ token, cannot move", ev.Message)
	assert.Equal(t, f.yard.Server.Listener.Addr().String(), ev.Device)
}

func TestHubRefusesSubscribersAfterClose(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 3*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Zero(t, hub.Subscribers())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, hub.Subscribers())

	// Events after Close go nowhere and do not panic.
	hub.Notify(onvif.Event{Device: "d", Level: onvif.LevelInfo, Message: "late"})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
