// Package adminserver provides the HTTP API for administering backups:
// database targets, SMB and S3 settings, the schedule and the archives.
package adminserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/catalog"
	"github.com/supporttools/GoSQLConsole/pkg/history"
	"github.com/supporttools/GoSQLConsole/pkg/mysql"
	"github.com/supporttools/GoSQLConsole/pkg/schedule"
	"github.com/supporttools/GoSQLConsole/pkg/smb"
	"github.com/supporttools/GoSQLConsole/pkg/validation"
	"github.com/supporttools/GoSQLConsole/pkg/version"
)

const maxBodyBytes = 1 << 20

// BackupRunner runs backups on demand.
type BackupRunner interface {
	Run(ctx context.Context, trigger backup.Trigger, databaseID string) backup.Result
	RunEach(ctx context.Context, trigger backup.Trigger, ids []string) []backup.Result
}

// ConnectionTester checks a database target.
type ConnectionTester interface {
	Test(ctx context.Context, t backupconf.DatabaseTarget) (mysql.ProbeResult, error)
}

// MountTester checks SMB settings.
type MountTester interface {
	Test(ctx context.Context, s backupconf.SMBSettings) (smb.TestResult, error)
}

// History lists and trims recorded backup runs.
type History interface {
	Recent(ctx context.Context, limit int, f history.Filter) ([]history.BackupRun, error)
	LastSuccess(ctx context.Context, databaseID string) (*history.BackupRun, error)
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// Options wires the server to its collaborators. History may be nil.
type Options struct {
	Addr      string
	Configs   *backupconf.Store
	Schedules *schedule.Store
	Runner    BackupRunner
	Prober    ConnectionTester
	Mounter   MountTester
	History   History
	Location  *time.Location
	Logger    logrus.FieldLogger
}

// Server is the admin HTTP server.
type Server struct {
	addr      string
	configs   *backupconf.Store
	schedules *schedule.Store
	runner    BackupRunner
	prober    ConnectionTester
	mounter   MountTester
	history   History
	loc       *time.Location
	logger    logrus.FieldLogger
	now       func() time.Time

	// only one on-demand task runs at a time
	taskLock      sync.Mutex
	isTaskRunning bool
	tasks         sync.WaitGroup
	taskCtx       context.Context
	cancelTasks   context.CancelFunc
}

// New creates a server instance.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	taskCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        opts.Addr,
		configs:     opts.Configs,
		schedules:   opts.Schedules,
		runner:      opts.Runner,
		prober:      opts.Prober,
		mounter:     opts.Mounter,
		history:     opts.History,
		loc:         loc,
		logger:      logger.WithField("component", "adminserver"),
		now:         time.Now,
		taskCtx:     taskCtx,
		cancelTasks: cancel,
	}
}

// Handler returns the router with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequestMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.healthCheckHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.getConfigHandler)
		r.Put("/config", s.putConfigHandler)

		r.Route("/databases", func(r chi.Router) {
			r.Post("/", s.addDatabaseHandler)
			r.Put("/{id}", s.updateDatabaseHandler)
			r.Delete("/{id}", s.deleteDatabaseHandler)
			r.Post("/{id}/test", s.testDatabaseHandler)
		})

		r.Get("/schedule", s.getScheduleHandler)
		r.Put("/schedule", s.putScheduleHandler)

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", s.listBackupsHandler)
			r.Post("/run", s.runBackupHandler)
			r.Post("/prune", s.pruneBackupsHandler)
			r.Get("/{filename}", s.downloadBackupHandler)
			r.Delete("/{filename}", s.deleteBackupHandler)
			r.Post("/{filename}/verify", s.verifyBackupHandler)
		})

		r.Post("/smb/test", s.testSMBHandler)
		r.Get("/history", s.historyHandler)
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully and
// waits for on-demand tasks for at most grace.
func (s *Server) ListenAndServe(ctx context.Context, grace time.Duration) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// downloads of large archives need a long write window
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("Admin server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	if !s.waitTasks(shutdownCtx) {
		s.logger.Warn("Cancelling on-demand tasks that did not finish in time")
		s.cancelTasks()
	}
	s.logger.Info("Admin server stopped")
	return err
}

func (s *Server) waitTasks(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// startTask runs fn in the background unless another task is running.
func (s *Server) startTask(name string, fn func(ctx context.Context)) bool {
	s.taskLock.Lock()
	defer s.taskLock.Unlock()

	if s.isTaskRunning {
		return false
	}
	s.isTaskRunning = true
	s.tasks.Add(1)

	go func() {
		defer s.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("task", name).WithField("panic", r).Error("On-demand task panicked")
			}
			s.taskLock.Lock()
			s.isTaskRunning = false
			s.taskLock.Unlock()
		}()
		fn(s.taskCtx)
	}()
	return true
}

// runTask runs fn synchronously under the task lock.
func (s *Server) runTask(fn func()) bool {
	s.taskLock.Lock()
	if s.isTaskRunning {
		s.taskLock.Unlock()
		return false
	}
	s.isTaskRunning = true
	s.taskLock.Unlock()

	defer func() {
		s.taskLock.Lock()
		s.isTaskRunning = false
		s.taskLock.Unlock()
	}()
	fn()
	return true
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]interface{}{
		"status":  "healthy",
		"time":    s.now().Format(time.RFC3339),
		"version": version.Get(),
	}, http.StatusOK)
}

// logRequestMiddleware logs HTTP requests
func (s *Server) logRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		entry := s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"remote":     r.RemoteAddr,
			"request_id": chimiddleware.GetReqID(r.Context()),
			"duration":   time.Since(start).String(),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("HTTP request failed")
			return
		}
		entry.Debug("HTTP request")
	})
}

// Response is the envelope of every API response.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) sendJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *Server) sendOK(w http.ResponseWriter, message string, data interface{}) {
	s.sendJSON(w, Response{Success: true, Message: message, Data: data}, http.StatusOK)
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, Response{Success: false, Message: message}, status)
}

// sendErr maps err to a status code and writes it.
func (s *Server) sendErr(w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		s.sendJSON(w, Response{Success: false, Message: verr.Error(), Data: verr.Fields}, http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrNotFound):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, catalog.ErrInvalidName), errors.Is(err, catalog.ErrOutsideBackupDir),
		errors.Is(err, smb.ErrDisabled):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrInvocation):
		s.sendError(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.WithError(err).Error("Request failed")
		s.sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

// decode reads a JSON body into v, rejecting unknown fields.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// catalog returns a catalog for the currently configured backup directory.
func (s *Server) catalog() *catalog.Catalog {
	return catalog.New(s.configs.LoadOrDefault().BackupDir, s.logger)
}
