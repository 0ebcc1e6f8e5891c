package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridkit/grid/internal/metrics"
	"github.com/gridkit/grid/internal/supervisor"
)

// Router exposes a supervisor over HTTP.
// Endpoints (relative to basePath):
//
//	POST /install   query: name=... (omit to install every service)
//	POST /start     query: name=... (omit to start every service)
//	POST /stop      query: name=... (omit to stop every service)
//	GET  /status    query: name=... (omit to list every service)
//	POST /bootstrap
//	POST /reconcile
//
// GET /healthz and GET /metrics are mounted at the root, outside basePath.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/start, /api/stop, /api/status.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/install", r.handleInstall)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.POST("/bootstrap", r.handleBootstrap)
	group.POST("/reconcile", r.handleReconcile)
	g.GET("/healthz", handleHealthz)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Shutdown or Close on the returned server to stop it.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type outcomeResp struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type batchResp struct {
	OK       bool          `json:"ok"`
	Failures []outcomeResp `json:"failures,omitempty"`
}

type stopResp struct {
	Name   string                `json:"name"`
	Result supervisor.StopResult `json:"result"`
	Error  string                `json:"error,omitempty"`
}

func writeBatch(c *gin.Context, b *supervisor.Batch) {
	resp := batchResp{OK: true}
	for _, o := range b.Failed() {
		resp.OK = false
		resp.Failures = append(resp.Failures, outcomeResp{Name: o.Name, Error: o.Err.Error()})
	}
	if !resp.OK {
		writeJSON(c, http.StatusBadRequest, resp)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// checkName rejects unsafe single-service selectors before they reach the
// supervisor. Returns false after writing the error response.
func checkName(c *gin.Context, name string) bool {
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return false
	}
	return true
}

func (r *Router) handleInstall(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeBatch(c, r.sup.InstallAll(c.Request.Context()))
		return
	}
	if !checkName(c, name) {
		return
	}
	if err := r.sup.InstallOne(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeBatch(c, r.sup.StartAll(c.Request.Context()))
		return
	}
	if !checkName(c, name) {
		return
	}
	st, err := r.sup.StartOne(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeBatch(c, r.sup.StopAll(c.Request.Context()))
		return
	}
	if !checkName(c, name) {
		return
	}
	res, err := r.sup.StopOne(c.Request.Context(), name)
	resp := stopResp{Name: name, Result: res}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(c, http.StatusBadRequest, resp)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		sts, err := r.sup.StatusAll(c.Request.Context())
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, sts)
		return
	}
	if !checkName(c, name) {
		return
	}
	st, err := r.sup.StatusOne(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleBootstrap(c *gin.Context) {
	if err := r.sup.Bootstrap(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReconcile(c *gin.Context) {
	if err := r.sup.ReconcileAll(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
