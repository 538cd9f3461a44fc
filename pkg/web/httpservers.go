package web

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/healthcheck"
	"github.com/atlassian/hasocket/pkg/util"
)

// Endpoints serves the websocket endpoints of a node.
type Endpoints interface {
	ManagementHandler(w http.ResponseWriter, r *http.Request)
	DataHandler(w http.ResponseWriter, r *http.Request)
}

// RoleSetter changes the role announced by the local node.
type RoleSetter interface {
	SetRole(ctx context.Context, role hasocket.Role) error
}

// Backend is everything a http server can expose.  Any of the fields may be nil, the routes
// needing a nil field must then be disabled.  HealthProviders are inspected for
// healthcheck.HealthCheckProvider and healthcheck.DeepCheckProvider.
type Backend struct {
	Endpoints       Endpoints
	Roles           RoleSetter
	Gatherer        prometheus.Gatherer
	HealthProviders []interface{}
}

type httpServer struct {
	logger  logrus.FieldLogger
	address string
	Router  *mux.Router // should be private, but project layout is not great.
}

type route struct {
	path    string
	handler http.HandlerFunc
	method  string
	name    string
}

var done = struct{}{}

func NewHttpServersFromViper(v *viper.Viper, logger logrus.FieldLogger, backend Backend) ([]*httpServer, error) {
	httpServerNames := v.GetStringSlice("http-servers")
	servers := make([]*httpServer, 0, len(httpServerNames))
	for _, httpServerName := range httpServerNames {
		server, err := newHttpServerFromViper(logger, v, httpServerName, backend)
		if err != nil {
			return nil, fmt.Errorf("failed to make http-server %s: %v", httpServerName, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func newHttpServerFromViper(
	logger logrus.FieldLogger,
	vMain *viper.Viper,
	serverName string,
	backend Backend,
) (*httpServer, error) {
	vSub := util.GetSubViper(vMain, "http."+serverName)
	vSub.SetDefault("address", "127.0.0.1:7474")
	vSub.SetDefault("enable-prof", false)
	vSub.SetDefault("enable-expvar", false)
	vSub.SetDefault("enable-websocket", true)
	vSub.SetDefault("enable-healthcheck", true)
	vSub.SetDefault("enable-metrics", true)
	vSub.SetDefault("enable-admin", false)
	vSub.SetDefault(hasocket.ParamManagementPath, hasocket.DefaultManagementPath)
	vSub.SetDefault(hasocket.ParamDataPath, hasocket.DefaultDataPath)

	return NewHttpServer(
		logger.WithField("http-server", serverName),
		backend,
		vSub.GetString("address"),
		hasocket.SanitizePath(vSub.GetString(hasocket.ParamManagementPath)),
		hasocket.SanitizePath(vSub.GetString(hasocket.ParamDataPath)),
		vSub.GetBool("enable-prof"),
		vSub.GetBool("enable-expvar"),
		vSub.GetBool("enable-websocket"),
		vSub.GetBool("enable-healthcheck"),
		vSub.GetBool("enable-metrics"),
		vSub.GetBool("enable-admin"),
	)
}

func NewHttpServer(
	logger logrus.FieldLogger,
	backend Backend,
	address, managementPath, dataPath string,
	enableProf,
	enableExpVar,
	enableWebsocket,
	enableHealthcheck,
	enableMetrics,
	enableAdmin bool,
) (*httpServer, error) {
	var routes []route

	server := &httpServer{
		logger:  logger,
		address: address,
	}

	if enableProf {
		profiler := &traceProfiler{}
		routes = append(routes,
			route{path: "/memprof", handler: profiler.MemProf, method: "POST", name: "profmem_post"},
			route{path: "/pprof", handler: profiler.PProf, method: "POST", name: "profpprof_post"},
			route{path: "/trace", handler: profiler.Trace, method: "POST", name: "proftrace_post"},
		)
	}

	if enableExpVar {
		routes = append(routes,
			route{path: "/expvar", handler: expvar.Handler().ServeHTTP, method: "GET", name: "expvar_get"},
		)
	}

	if enableWebsocket {
		if backend.Endpoints == nil {
			return nil, fmt.Errorf("websocket routes require endpoints")
		}
		routes = append(routes,
			route{path: managementPath, handler: backend.Endpoints.ManagementHandler, method: "GET", name: "management_ws"},
			route{path: dataPath, handler: backend.Endpoints.DataHandler, method: "GET", name: "data_ws"},
		)
	}

	if enableHealthcheck {
		hc := &healthChecker{logger: logger}
		for _, provider := range backend.HealthProviders {
			hc.healthChecks, hc.deepChecks = healthcheck.MaybeAppendHealthChecks(hc.healthChecks, hc.deepChecks, provider)
		}
		routes = append(routes,
			route{path: "/healthcheck", handler: hc.healthCheck, method: "GET", name: "healthcheck_get"},
			route{path: "/deepcheck", handler: hc.deepCheck, method: "GET", name: "deepcheck_get"},
		)
	}

	if enableMetrics {
		if backend.Gatherer == nil {
			return nil, fmt.Errorf("metrics route requires a gatherer")
		}
		routes = append(routes,
			route{path: "/metrics", handler: metricsHandler(logger, backend.Gatherer), method: "GET", name: "metrics_get"},
		)
	}

	if enableAdmin {
		if backend.Roles == nil {
			return nil, fmt.Errorf("admin routes require a role setter")
		}
		ra := &roleAdmin{logger: logger, roles: backend.Roles}
		routes = append(routes,
			route{path: "/role", handler: ra.setRole, method: "PUT", name: "role_put"},
		)
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("must enable at least one of prof, expvar, websocket, healthcheck, metrics, or admin")
	}

	router, err := createRoutes(routes)
	if err != nil {
		return nil, err
	}
	router.NotFoundHandler = server.logRequest(http.HandlerFunc(server.notFound))
	router.Use(server.logRequest)
	server.Router = router

	logger.WithFields(logrus.Fields{
		"address":            address,
		"enable-pprof":       enableProf,
		"enable-expvar":      enableExpVar,
		"enable-websocket":   enableWebsocket,
		"enable-healthcheck": enableHealthcheck,
		"enable-metrics":     enableMetrics,
		"enable-admin":       enableAdmin,
	}).Info("Created server")

	return server, nil
}

func (hs *httpServer) notFound(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(404)
	_, _ = w.Write([]byte("not found"))
}

func createRoutes(routes []route) (*mux.Router, error) {
	router := mux.NewRouter()

	for _, route := range routes {
		r := router.HandleFunc(route.path, route.handler).Methods(route.method).Name(route.name)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("error creating route %s: %v", route.name, err)
		}
	}

	return router, nil
}

func (hs *httpServer) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var routeName string
		route := mux.CurrentRoute(req)
		logFields := logrus.Fields{
			"route": routeName,
			"srcip": strings.Split(req.RemoteAddr, ":")[0],
			"path":  req.URL.Path,
		}
		if route == nil {
			logFields["path"] = req.URL.Path
			logFields["method"] = req.Method
		} else {
			logFields["route"] = route.GetName()
		}
		source := req.Header.Get("X-Forwarded-For")
		if source != "" {
			logFields["forwarded_for"] = source
		}

		start := time.Now()
		handler.ServeHTTP(w, req)
		dur := time.Since(start)

		logFields["duration"] = float64(dur) / float64(time.Millisecond)
		hs.logger.WithFields(logFields).Debug("request")
	})
}

// Run serves until the context is done.  Websocket connections are hijacked, so they are not
// waited for: the node server closes them itself.
func (hs *httpServer) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    hs.address,
		Handler: hs.Router,
	}

	chStopped := make(chan struct{}, 1)
	go hs.waitAndStop(ctx, server, chStopped)

	hs.logger.WithField("address", server.Addr).Info("listening")

	err := server.ListenAndServe()
	if err != http.ErrServerClosed {
		hs.logger.WithError(err).Error("web server failed")
		return
	}

	// Wait for graceful shutdown of existing connections

	select {
	case <-chStopped:
		// happy
	case <-time.After(6 * time.Second):
		hs.logger.Info("timeout waiting for webserver to stop")
	}
}

// waitAndStop will gracefully shut down the Server when the Context passed is cancelled.  It signals
// on chStopped when it is done.  There is no guarantee that it will actually signal, if the server
// does not shutdown.
func (hs *httpServer) waitAndStop(ctx context.Context, server *http.Server, chStopped chan<- struct{}) {
	<-ctx.Done()

	hs.logger.Info("shutting down web server")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(timeoutCtx)
	if err != nil {
		hs.logger.WithError(err).Warn("failed to stop web server")
	}
	chStopped <- done
}
