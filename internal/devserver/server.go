package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webnode/internal/infrastructure/config"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webnode/internal/npm"
	"github.com/GriffinCanCode/webnode/internal/runtime"
	"github.com/GriffinCanCode/webnode/internal/shared/id"
	"github.com/GriffinCanCode/webnode/internal/transform"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// builtinNames seeds the ESM lowerer with the loader's builtin table.
var builtinNames = []string{"fs", "path", "os", "process", "buffer", "events", "util"}

// Options configures a Server beyond what config carries. Zero values
// take defaults.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// Registry overrides the HTTP registry client, for tests.
	Registry npm.Registry
}

// Server wraps the HTTP surface and its dependencies.
type Server struct {
	router      *gin.Engine
	fs          *vfs.FS
	loader      *runtime.Loader
	installer   *npm.Installer
	transformer *transform.Lowerer
	metrics     *monitoring.Metrics
	log         *logging.Logger
	cfg         *config.Config

	// The loader's VM is single-threaded; evaluations serialize here.
	execMu      sync.Mutex
	consoleSink []Console

	sessionMu sync.Mutex
	sessions  map[id.SessionID]*runtime.Session

	http *http.Server
}

// NewServer creates a server instance over a fresh filesystem.
func NewServer(cfg *config.Config, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	fsys := vfs.New()
	s := &Server{
		fs:          fsys,
		metrics:     metrics,
		log:         log.Named("devserver"),
		cfg:         cfg,
		sessions:    make(map[id.SessionID]*runtime.Session),
		transformer: transform.NewLowerer(builtinNames),
	}

	s.loader = runtime.New(fsys, runtime.Config{
		Transformer: s.transformer,
		Console: func(level, message string) {
			s.consoleSink = append(s.consoleSink, Console{Level: level, Message: message})
		},
	})

	registry := opts.Registry
	if registry == nil {
		registry = npm.NewClient(npm.ClientConfig{
			BaseURL:           cfg.Registry.URL,
			Timeout:           cfg.Registry.Timeout,
			RetryMax:          cfg.Registry.RetryMax,
			RequestsPerSecond: cfg.Registry.RequestsPerSecond,
			Burst:             cfg.Registry.Burst,
			UserAgent:         "webnode/1.0",
		}, log)
	}
	s.installer = npm.NewInstaller(fsys, npm.Config{
		Registry:    registry,
		Transformer: s.transformer,
		Logger:      log,
	})

	s.router = s.buildRouter()
	return s
}

// FS returns the server's filesystem.
func (s *Server) FS() *vfs.FS { return s.fs }

// Router exposes the Gin engine, for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(CORS(DefaultCORSConfig()))
	router.Use(monitoring.Middleware(s.metrics))
	if s.cfg.RateLimit.Enabled {
		router.Use(RateLimit(RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/execute", s.handleExecute)
	router.POST("/run", s.handleRun)
	router.POST("/install", s.handleInstall)
	router.POST("/clear-cache", s.handleClearCache)

	router.GET("/files/*path", s.handleReadFile)
	router.PUT("/files/*path", s.handleWriteFile)
	router.DELETE("/files/*path", s.handleDeleteFile)

	router.GET("/snapshot", s.handleSnapshot)
	router.POST("/snapshot", s.handleRestore)

	router.POST("/sessions", s.handleCreateSession)
	router.GET("/sessions", s.handleListSessions)
	router.POST("/sessions/:id/eval", s.handleEval)
	router.DELETE("/sessions/:id", s.handleDeleteSession)

	router.GET("/ws", s.handleWS)
	router.GET("/sandbox", s.handleSandbox)

	return router
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.http = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.metrics.TickUptime()
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("Shutting down")
	return s.http.Shutdown(shutdownCtx)
}

// execute runs fn under the evaluation lock and returns the console
// output captured during it.
func (s *Server) execute(fn func() (interface{}, error)) (interface{}, []Console, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.consoleSink = nil
	val, err := fn()
	captured := s.consoleSink
	s.consoleSink = nil
	s.metrics.ModulesCached.Set(float64(len(s.loader.CachedModules())))
	return val, captured, err
}
