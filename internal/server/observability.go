// HTTP gateway, observability endpoints and gRPC middleware
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nainya/draftsync/internal/logger"
	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/docstore"
)

// maxRecordSize bounds request bodies on the gateway
const maxRecordSize = 16 * 1024 * 1024

// readinessKey is read to check the store; it is never written
const readinessKey = "health/ready"

func grpcStatus(err error) string {
	if err == nil {
		return "success"
	}
	return status.Code(err).String()
}

// GrpcMetricsInterceptor creates a gRPC interceptor for metrics and logging
func GrpcMetricsInterceptor(m *metrics.Metrics, log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		m.GrpcRequestsInFlight.Inc()
		defer m.GrpcRequestsInFlight.Dec()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		m.RecordGrpcRequest(info.FullMethod, grpcStatus(err), duration)
		if status.Code(err) != codes.NotFound {
			log.LogGrpcRequest(info.FullMethod, duration, err)
		}

		return resp, err
	}
}

// GrpcStreamInterceptor records watch streams once they end
func GrpcStreamInterceptor(m *metrics.Metrics, log *logger.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.GrpcRequestsInFlight.Inc()
		defer m.GrpcRequestsInFlight.Dec()

		err := handler(srv, ss)

		duration := time.Since(start)
		m.RecordGrpcRequest(info.FullMethod, grpcStatus(err), duration)
		log.LogGrpcRequest(info.FullMethod, duration, err)
		return err
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewGateway builds the HTTP router: record REST routes, websocket watches,
// health, readiness, metrics and pprof
func NewGateway(srv *Server, m *metrics.Metrics, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	g := &gateway{srv: srv, log: log}

	v1 := router.Group("/v1")
	{
		v1.GET("/records/*key", g.getRecord)
		v1.PUT("/records/*key", g.putRecord)
		v1.PATCH("/records/*key", g.mergeRecord)
		v1.DELETE("/records/*key", g.deleteRecord)
		v1.GET("/watch", g.watch)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "draftsync",
			"uptime":  srv.Uptime().Round(time.Second).String(),
		})
	})
	router.GET("/ready", g.ready)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	debug := router.Group("/debug/pprof")
	{
		debug.GET("/", gin.WrapF(pprof.Index))
		debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		debug.GET("/profile", gin.WrapF(pprof.Profile))
		debug.GET("/symbol", gin.WrapF(pprof.Symbol))
		debug.GET("/trace", gin.WrapF(pprof.Trace))
		for _, name := range []string{"heap", "goroutine", "threadcreate", "block", "mutex", "allocs"} {
			debug.GET("/"+name, gin.WrapH(pprof.Handler(name)))
		}
	}

	return router
}

// requestLogger logs each request at debug level
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration_ms", time.Since(start)).
			Send()
	}
}

type gateway struct {
	srv *Server
	log *logger.Logger
}

func recordKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// writeStoreError maps store errors onto the status codes the HTTP client expects
func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		c.String(http.StatusNotFound, "not found")
	case errors.Is(err, docstore.ErrClosed):
		c.String(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, docstore.ErrNotObject):
		c.String(http.StatusUnprocessableEntity, err.Error())
	default:
		c.String(http.StatusInternalServerError, err.Error())
	}
}

func (g *gateway) getRecord(c *gin.Context) {
	key := recordKey(c)
	if key == "" {
		c.String(http.StatusBadRequest, "key is required")
		return
	}

	value, err := g.srv.store.Get(c.Request.Context(), key)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", value)
}

func (g *gateway) putRecord(c *gin.Context) {
	key := recordKey(c)
	if key == "" {
		c.String(http.StatusBadRequest, "key is required")
		return
	}

	value, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRecordSize))
	if err != nil {
		c.String(http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err := g.srv.store.Put(c.Request.Context(), key, value); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *gateway) mergeRecord(c *gin.Context) {
	key := recordKey(c)
	if key == "" {
		c.String(http.StatusBadRequest, "key is required")
		return
	}

	patch, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRecordSize))
	if err != nil {
		c.String(http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err := g.srv.store.Merge(c.Request.Context(), key, patch); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *gateway) deleteRecord(c *gin.Context) {
	key := recordKey(c)
	if key == "" {
		c.String(http.StatusBadRequest, "key is required")
		return
	}

	if err := g.srv.store.Delete(c.Request.Context(), key); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// watch upgrades to a websocket and writes one JSON WatchEvent per snapshot,
// starting with the current state
func (g *gateway) watch(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.String(http.StatusBadRequest, "key is required")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	updates, err := g.srv.store.Watch(ctx, key)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed").Str("key", key).Err(err).Send()
		return
	}
	defer conn.Close()

	// the client only sends close frames; a read error means it is gone
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snap := range updates {
		if err := conn.WriteJSON(docstore.NewWatchEvent(snap)); err != nil {
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "watch ended"),
		time.Now().Add(time.Second))
}

func (g *gateway) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	_, err := g.srv.store.Get(ctx, readinessKey)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GatewayServer serves the gateway router over HTTP
type GatewayServer struct {
	server *http.Server
	log    *logger.Logger
}

// NewGatewayServer creates an HTTP server for handler on port
func NewGatewayServer(port int, handler http.Handler, log *logger.Logger) *GatewayServer {
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return &GatewayServer{
		server: server,
		log:    log,
	}
}

// Start serves until Shutdown
func (o *GatewayServer) Start() error {
	o.log.Info("Starting HTTP gateway").
		Str("addr", o.server.Addr).
		Str("records", fmt.Sprintf("http://%s%s", o.server.Addr, docstore.RecordsPath)).
		Str("metrics", fmt.Sprintf("http://%s/metrics", o.server.Addr)).
		Str("pprof", fmt.Sprintf("http://%s/debug/pprof/", o.server.Addr)).
		Send()

	if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the gateway
func (o *GatewayServer) Shutdown(ctx context.Context) error {
	o.log.Info("Shutting down HTTP gateway").Send()
	return o.server.Shutdown(ctx)
}
