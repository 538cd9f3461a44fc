package web_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/internal/cluster/nodes"
	"github.com/atlassian/hasocket/internal/fixtures"
	"github.com/atlassian/hasocket/pkg/codec"
	"github.com/atlassian/hasocket/pkg/healthcheck"
	"github.com/atlassian/hasocket/pkg/node"
	"github.com/atlassian/hasocket/pkg/web"
)

func testContext(t *testing.T) (context.Context, func()) {
	ctxTest, completeTest := context.WithTimeout(context.Background(), 1100*time.Millisecond)
	go func() {
		after := time.NewTimer(1 * time.Second)
		select {
		case <-ctxTest.Done():
			after.Stop()
		case <-after.C:
			require.Fail(t, "test timed out")
		}
	}()
	return ctxTest, completeTest
}

type recordingRoles struct {
	mu    sync.Mutex
	roles []hasocket.Role
}

func (rr *recordingRoles) SetRole(ctx context.Context, role hasocket.Role) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.roles = append(rr.roles, role)
	return nil
}

type checks struct {
	deepHealthy bool
}

func (c checks) HealthChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) { return "shallow", healthcheck.Healthy },
	}
}

func (c checks) DeepChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) { return "deep", healthcheck.HealthyStatus(c.deepHealthy) },
	}
}

func newTestServer(t *testing.T, backend web.Backend, enableWebsocket, enableHealthcheck, enableMetrics, enableAdmin bool) *httptest.Server {
	hs, err := web.NewHttpServer(
		fixtures.NewTestLogger(t),
		backend,
		"127.0.0.1:0",
		hasocket.DefaultManagementPath,
		hasocket.DefaultDataPath,
		false,
		false,
		enableWebsocket,
		enableHealthcheck,
		enableMetrics,
		enableAdmin,
	)
	require.NoError(t, err)
	srv := httptest.NewServer(hs.Router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, string) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestHttpServerShutsdown(t *testing.T) {
	testCtx, completed := testContext(t)
	defer completed()

	hs, err := web.NewHttpServer(
		logrus.StandardLogger(),
		web.Backend{},
		"127.0.0.1:0", // should pick a random port to bind to
		hasocket.DefaultManagementPath,
		hasocket.DefaultDataPath,
		false,
		false,
		false,
		true,
		false,
		false,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(testCtx)
	chDone := make(chan struct{}, 1)
	go func() {
		hs.Run(ctx)
		chDone <- struct{}{}
	}()

	cancel()
	select {
	case <-testCtx.Done():
	case <-chDone:
	}
}

func TestNewHttpServerValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                                  string
		websocket, healthcheck, metrics, role bool
	}{
		{name: "nothing enabled"},
		{name: "websocket without endpoints", websocket: true},
		{name: "metrics without gatherer", metrics: true},
		{name: "admin without role setter", role: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := web.NewHttpServer(fixtures.NewTestLogger(t), web.Backend{}, "127.0.0.1:0", "/m", "/d",
				false, false, tt.websocket, tt.healthcheck, tt.metrics, tt.role)
			require.Error(t, err)
		})
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, web.Backend{HealthProviders: []interface{}{checks{deepHealthy: false}, "not a provider"}}, false, true, false, false)

	status, body := do(t, http.MethodGet, srv.URL+"/healthcheck", "")
	assert.Equal(t, http.StatusOK, status)
	var report map[string][]string
	require.NoError(t, jsoniter.UnmarshalFromString(body, &report))
	assert.Equal(t, map[string][]string{"ok": {"shallow"}, "failed": {}}, report)

	status, body = do(t, http.MethodGet, srv.URL+"/deepcheck", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	require.NoError(t, jsoniter.UnmarshalFromString(body, &report))
	assert.Equal(t, map[string][]string{"ok": {}, "failed": {"deep"}}, report)

	status, _ = do(t, http.MethodGet, srv.URL+"/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "hasocket_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := newTestServer(t, web.Backend{Gatherer: reg}, false, false, true, false)
	status, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "hasocket_test_total 3")
}

func TestRoleRoute(t *testing.T) {
	t.Parallel()

	roles := &recordingRoles{}
	srv := newTestServer(t, web.Backend{Roles: roles}, false, false, false, true)

	status, _ := do(t, http.MethodPut, srv.URL+"/role?role=master", "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(t, http.MethodPut, srv.URL+"/role", `{"role":"slave"}`)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, http.MethodPut, srv.URL+"/role?role=leader", "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, http.MethodPut, srv.URL+"/role", "{")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, http.MethodGet, srv.URL+"/role", "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	roles.mu.Lock()
	defer roles.mu.Unlock()
	assert.Equal(t, []hasocket.Role{hasocket.RoleMaster, hasocket.RoleSlave}, roles.roles)
}

func TestWebsocketRoutes(t *testing.T) {
	t.Parallel()

	logger := fixtures.NewTestLogger(t)
	source := nodes.NewStaticSource(logger, "5", hasocket.RoleSlave)
	server := node.NewServer(logger, source, node.NewDispatcher(logger, hasocket.DefaultLanguage))
	srv := newTestServer(t, web.Backend{Endpoints: server}, true, false, false, false)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+hasocket.DefaultManagementPath, nil)
	require.NoError(t, err)
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(hasocket.RegisterCommand)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var reg hasocket.Registration
	require.NoError(t, codec.Text.Unmarshal(data, &reg))
	assert.Equal(t, hasocket.Registration{ID: "5"}, reg)
}

func TestNewHttpServersFromViper(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("http-servers", []string{"admin", "public"})
	v.Set("http.admin.enable-websocket", false)
	v.Set("http.admin.enable-metrics", false)
	v.Set("http.admin.enable-admin", true)
	v.Set("http.public.address", "127.0.0.1:0")

	logger := fixtures.NewTestLogger(t)
	source := nodes.NewStaticSource(logger, "1", hasocket.RoleMaster)
	backend := web.Backend{
		Endpoints: node.NewServer(logger, source, node.NewDispatcher(logger, hasocket.DefaultLanguage)),
		Roles:     &recordingRoles{},
		Gatherer:  prometheus.NewRegistry(),
	}
	servers, err := web.NewHttpServersFromViper(v, logger, backend)
	require.NoError(t, err)
	assert.Len(t, servers, 2)

	_, err = web.NewHttpServersFromViper(v, logger, web.Backend{Endpoints: backend.Endpoints})
	assert.Error(t, err, "admin and metrics need a role setter and a gatherer")
}
