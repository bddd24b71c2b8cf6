// Package api is the HTTP edge: an upstream proxy, generic table CRUD and
// queue administration. Every request that must not overlap with its peers
// goes through the task queue.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/SirClappington/edgeq/internal/domain"
	"github.com/SirClappington/edgeq/internal/storage"
	"github.com/SirClappington/edgeq/internal/taskqueue"
)

const version = "1.0.0"

// Upstream is the voter admin API.
type Upstream interface {
	GetVisitRecord(ctx context.Context, id, token string) (any, error)
	PatchVisitRecord(ctx context.Context, id, token string, body map[string]any) (any, error)
	DefaultToken() string
}

// Store is the generic table store. A nil Store disables the /api/db routes.
type Store interface {
	Insert(ctx context.Context, table string, data storage.Row) (storage.WriteResult, error)
	Update(ctx context.Context, table string, data, where storage.Row) (storage.WriteResult, error)
	Delete(ctx context.Context, table string, where storage.Row) (storage.WriteResult, error)
	Select(ctx context.Context, table string, where storage.Row, limit int) ([]storage.Row, error)
	TableExists(ctx context.Context, table string) (bool, error)
	Tables(ctx context.Context) ([]string, error)
	TableSchema(ctx context.Context, table string) ([]storage.Column, error)
}

// Mirror reads lane stats published by other instances. A nil Mirror
// disables the /api/queues/{key}/mirror route.
type Mirror interface {
	Snapshot(ctx context.Context, key string) (map[string]string, error)
	RecentErrors(ctx context.Context, key string, n int64) ([]string, error)
}

type Server struct {
	queue    *taskqueue.TaskQueue
	upstream Upstream
	store    Store
	mirror   Mirror
	logger   *zap.Logger

	userLane taskqueue.Config
	dbLane   taskqueue.Config
}

type Option func(*Server)

// WithStore enables the table routes.
func WithStore(s Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithMirror enables the mirrored stats route.
func WithMirror(m Mirror) Option {
	return func(srv *Server) { srv.mirror = m }
}

// WithUserLane sets the configuration of the user-api lane.
func WithUserLane(cfg taskqueue.Config) Option {
	return func(srv *Server) { srv.userLane = cfg }
}

// WithTableLane sets the configuration used for every db:<table> lane.
func WithTableLane(cfg taskqueue.Config) Option {
	return func(srv *Server) { srv.dbLane = cfg }
}

func New(q *taskqueue.TaskQueue, up Upstream, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:    q,
		upstream: up,
		logger:   logger,
		userLane: taskqueue.Config{MaxConcurrent: 1, ProcessingDelay: time.Second, MaxQueueSize: 50, Timeout: 30 * time.Second},
		dbLane:   taskqueue.Config{MaxConcurrent: 1, MaxQueueSize: 100, Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	q.Register(domain.UserAPIQueue, s.processVisitUpdate, taskqueue.WithConfig(s.userLane))
	return s
}

func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(requestLogger(s.logger))
	rtr.Use(middleware.Recoverer)
	rtr.Use(cors.Handler(corsOptions))

	rtr.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	rtr.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	rtr.Get("/", s.handleWelcome)

	rtr.Get("/api/user", s.handleGetUser)
	rtr.Post("/api/user/{id}", s.handleUpdateUser)

	rtr.Route("/api/db", func(rtr chi.Router) {
		rtr.Use(s.requireStore)
		rtr.Get("/tables", s.handleListTables)
		rtr.Get("/tables/{table}/schema", s.handleTableSchema)
		rtr.Get("/{table}", s.handleSelect)
		rtr.Post("/{table}", s.handleInsert)
		rtr.Patch("/{table}", s.handleUpdate)
		rtr.Delete("/{table}", s.handleDelete)
	})

	rtr.Route("/api/queues", func(rtr chi.Router) {
		rtr.Get("/", s.handleQueueStatusAll)
		rtr.Delete("/", s.handleClearAll)
		rtr.Get("/config", s.handleQueueConfig)
		rtr.Get("/{key}", s.handleQueueStatus)
		rtr.Delete("/{key}", s.handleClearQueue)
		rtr.Get("/{key}/mirror", s.handleMirror)
	})

	return rtr
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "edgeq API",
		"version": version,
		"status":  "running",
	})
}

var errGaveUp = errors.New("gave up waiting for a result")

// waitBudget bounds how long a handler waits on a lane: a full lane ahead of
// the item plus the item itself, each paced and timed out. Items discarded
// by Clear never settle.
func waitBudget(cfg taskqueue.Config) time.Duration {
	def := taskqueue.DefaultConfig()
	size, timeout := cfg.MaxQueueSize, cfg.Timeout
	if size <= 0 {
		size = def.MaxQueueSize
	}
	if timeout <= 0 {
		timeout = def.Timeout
	}
	return time.Duration(size+1) * (max(cfg.ProcessingDelay, 0) + timeout)
}

// enqueue runs payload through key's lane and waits for it within the
// lane's wait budget.
func (s *Server) enqueue(r *http.Request, key string, payload any, proc taskqueue.Processor, cfg taskqueue.Config) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), waitBudget(cfg))
	defer cancel()

	res, err := s.queue.Do(ctx, key, payload, proc, taskqueue.WithConfig(cfg))
	if err != nil && errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
		return nil, fmt.Errorf("queue %q: %w", key, errGaveUp)
	}
	return res, err
}
