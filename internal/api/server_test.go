package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/db"
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/health"
	"github.com/lanlink-project/lanlink/internal/lan"
	"github.com/lanlink-project/lanlink/internal/network"
	"github.com/lanlink-project/lanlink/internal/stats"
)

func testAddr(octet int) netip.AddrPort {
	return netip.MustParseAddrPort(fmt.Sprintf("192.168.0.%d:27015", octet))
}

type testRig struct {
	server  *Server
	session *lan.Session
	journal *db.Journal
	router  *gin.Engine
	cfg     *config.Config
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	hub := network.NewMemHub()
	session := lan.NewSession(lan.Options{
		Callsign:    "Vex",
		UseChecksum: true,
		Enabled:     true,
		Link:        hub.Join(testAddr(42)),
	})

	journal, err := db.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	s := NewServer(cfg, bus, session)
	s.SetDependencies(stats.NewTracker(session), health.NewStallMonitor(bus), journal)
	s.live = NewLiveHub(session)

	return &testRig{
		server:  s,
		session: session,
		journal: journal,
		router:  s.buildRouter(),
		cfg:     cfg,
	}
}

func (r *testRig) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPingEndpoint(t *testing.T) {
	rig := newTestRig(t)

	w := rig.do(http.MethodGet, "/api/public/ping", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, "lanlink", body["service"])
	require.Equal(t, "ok", body["status"])
}

func TestNodeInfoEndpoint(t *testing.T) {
	rig := newTestRig(t)

	w := rig.do(http.MethodGet, "/api/public/get_node_info", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, "Vex", body["callsign"])
	require.Equal(t, "up", body["link_status"])
}

func TestSessionViewEndpoint(t *testing.T) {
	rig := newTestRig(t)
	rig.session.Advance(0.016)

	w := rig.do(http.MethodGet, "/api/monitor/get_session_view", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view lan.SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, "Vex", view.Self.Callsign)
	require.InDelta(t, 0.016, view.Clock, 1e-9)
}

func TestBearerTokenGuardsProtectedRoutes(t *testing.T) {
	rig := newTestRig(t)

	app := rig.cfg.GetApplicationData()
	app.Security.AuthDisabled = false
	app.Security.APIToken = "sekrit"
	rig.cfg.SetApplicationData(app)

	w := rig.do(http.MethodGet, "/api/monitor/get_link_counters", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/monitor/get_link_counters", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/monitor/get_link_counters", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Public routes stay open.
	w = rig.do(http.MethodGet, "/api/public/ping", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestShareEndpointQueuesCommand(t *testing.T) {
	rig := newTestRig(t)

	w := rig.do(http.MethodPost, "/api/control/share", `{"cash":30,"score":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "queued", decodeBody(t, w)["status"])

	rig.session.Advance(0.016)
	view := rig.session.View()
	require.Equal(t, 470, view.Self.Cash)
	require.Equal(t, 30, view.Self.Pending.Cash)
}

func TestShareEndpointRejectsBadAmounts(t *testing.T) {
	rig := newTestRig(t)

	w := rig.do(http.MethodPost, "/api/control/share", `{"cash":-5}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(http.MethodPost, "/api/control/share", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallsignEndpointAppliesNextFrame(t *testing.T) {
	rig := newTestRig(t)

	w := rig.do(http.MethodPost, "/api/control/set_callsign", `{"callsign":"Razor"}`)
	require.Equal(t, http.StatusOK, w.Code)

	rig.session.Advance(0.016)
	require.Equal(t, "Razor", rig.session.View().Self.Callsign)
}

func TestPerkEndpointRejectsUnknownPerk(t *testing.T) {
	rig := newTestRig(t)

	w := rig.do(http.MethodPost, "/api/control/set_perk", `{"perk":"wallhack","on":true}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(http.MethodPost, "/api/control/set_perk", `{"perk":"speed","on":true}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAcknowledgeAlertEndpoint(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.journal.CreateAlert("health", "warning", "test alert"))
	alerts, err := rig.journal.GetUnacknowledgedAlerts()
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	w := rig.do(http.MethodPost, fmt.Sprintf("/api/control/acknowledge_alert/%d", alerts[0].ID), "")
	require.Equal(t, http.StatusOK, w.Code)

	alerts, err = rig.journal.GetUnacknowledgedAlerts()
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestAlertsEndpointListsUnacknowledged(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.journal.CreateAlert("disk", "critical", "disk filling"))

	w := rig.do(http.MethodGet, "/api/monitor/get_alerts", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, float64(1), body["count"])
}

func TestStatsEndpointReturnsSample(t *testing.T) {
	rig := newTestRig(t)

	w := rig.do(http.MethodGet, "/api/monitor/get_stats", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLiveStreamPushesViewFrames(t *testing.T) {
	rig := newTestRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rig.server.live.Run(ctx)

	srv := httptest.NewServer(rig.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var view lan.SessionView
	require.NoError(t, json.Unmarshal(payload, &view))
	require.Equal(t, "Vex", view.Self.Callsign)
}
