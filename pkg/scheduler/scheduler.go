// Package scheduler keeps the cron trigger for scheduled backups in line
// with the scheduler configuration file.
package scheduler

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/config"
	"github.com/supporttools/GoSQLConsole/pkg/metrics"
	"github.com/supporttools/GoSQLConsole/pkg/schedule"
)

// ErrAlreadyRunning is returned by Start on a running reconciler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Reconcile outcomes used as metric labels.
const (
	resultInstalled = "installed"
	resultDisabled  = "disabled"
	resultInvalid   = "invalid"
)

// State of a Reconciler.
type State int

// States
const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Invoker runs backups.
type Invoker interface {
	Run(ctx context.Context, trigger backup.Trigger, databaseID string) backup.Result
	RunEach(ctx context.Context, trigger backup.Trigger, ids []string) []backup.Result
}

// ScheduleSource provides the schedule and its modification time.
type ScheduleSource interface {
	Load() schedule.Config
	ModTime() (time.Time, error)
}

// TargetSource provides the configured databases.
type TargetSource interface {
	LoadOrDefault() *backupconf.BackupConfig
}

// Options configures a Reconciler.
type Options struct {
	Schedules ScheduleSource
	// Targets is only consulted when Scope is config.ScopeEach.
	Targets      TargetSource
	Invoker      Invoker
	PollInterval time.Duration
	Scope        string
	Location     *time.Location
	Logger       logrus.FieldLogger
}

// Trigger describes an installed trigger.
type Trigger struct {
	ID          int       `json:"id"`
	Spec        string    `json:"spec"`
	Description string    `json:"description"`
	Next        time.Time `json:"next"`
}

// Reconciler owns the live trigger set. The set holds at most one trigger
// and is rebuilt from scratch on every reconciliation.
type Reconciler struct {
	schedules    ScheduleSource
	targets      TargetSource
	invoker      Invoker
	pollInterval time.Duration
	scope        string
	loc          *time.Location
	logger       logrus.FieldLogger

	mu          sync.Mutex
	cron        *cron.Cron
	state       State
	shutDown    bool // set by Shutdown, cleared by Start
	entry       cron.EntryID
	spec        string
	description string
	lastMod     time.Time

	jobCtx    context.Context
	jobCancel context.CancelFunc
	stopPoll  context.CancelFunc
	pollDone  chan struct{}
}

// New creates a stopped reconciler.
func New(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "scheduler")

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	scope := opts.Scope
	if scope == "" {
		scope = config.ScopeDefault
	}

	cronLogger := cron.PrintfLogger(logger)
	return &Reconciler{
		schedules:    opts.Schedules,
		targets:      opts.Targets,
		invoker:      opts.Invoker,
		pollInterval: interval,
		scope:        scope,
		loc:          loc,
		logger:       logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		jobCtx: context.Background(),
	}
}

// State returns the current state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start performs an initial reconciliation, starts the cron runner and
// begins polling the schedule file for changes. ctx bounds the lifetime of
// the polling loop and of scheduled backups.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.state = Running
	r.shutDown = false
	r.jobCtx, r.jobCancel = context.WithCancel(ctx)
	pollCtx, stop := context.WithCancel(ctx)
	r.stopPoll = stop
	r.pollDone = make(chan struct{})
	done := r.pollDone
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"poll_interval": r.pollInterval.String(),
		"scope":         r.scope,
	}).Info("Starting backup scheduler")

	if mod, err := r.schedules.ModTime(); err == nil {
		r.setLastMod(mod)
	}
	if err := r.Reconcile(); err != nil {
		r.logger.WithError(err).Warn("Initial reconciliation installed no trigger")
	}
	r.cron.Start()

	go r.pollLoop(pollCtx, done)
	return nil
}

func (r *Reconciler) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

// poll reconciles when the schedule file changed since the last check.
func (r *Reconciler) poll() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).Error("Recovered from panic while polling the schedule")
		}
	}()

	mod, err := r.schedules.ModTime()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.WithError(err).Warn("Failed to check scheduler configuration")
		}
		return
	}

	r.mu.Lock()
	changed := mod.After(r.lastMod)
	if changed {
		r.lastMod = mod
	}
	r.mu.Unlock()

	if changed {
		r.logger.Info("Scheduler configuration changed, reconfiguring")
		if err := r.Reconcile(); err != nil {
			r.logger.WithError(err).Warn("Reconciliation installed no trigger")
		}
	}
}

func (r *Reconciler) setLastMod(mod time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastMod = mod
}

// Reconcile reads the schedule and replaces the trigger set. The previous
// trigger is removed before the new one is installed. A disabled schedule
// leaves no trigger; an invalid one is logged, leaves no trigger and is
// returned as the error. After Shutdown it installs nothing until the
// reconciler is started again.
func (r *Reconciler) Reconcile() error {
	cfg := r.schedules.Load()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearLocked()
	if r.shutDown {
		r.logger.Debug("Scheduler is shut down, not installing a backup job")
		return nil
	}

	if !cfg.Enabled {
		r.logger.Info("Scheduler is disabled")
		metrics.ReconcileCount.WithLabelValues(resultDisabled).Inc()
		return nil
	}

	if _, _, ok := schedule.ParseTime(cfg.Time); !ok {
		r.logger.WithField("time", cfg.Time).Error("Invalid time in scheduler configuration, using 00:00")
	}

	spec, err := cfg.CronSpec()
	if err != nil {
		r.logger.WithError(err).WithField("schedule", cfg.Schedule).Error("Unknown schedule, no backup job configured")
		metrics.ReconcileCount.WithLabelValues(resultInvalid).Inc()
		return err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		r.logger.WithError(err).WithField("spec", spec).Error("Failed to parse cron expression")
		metrics.ReconcileCount.WithLabelValues(resultInvalid).Inc()
		return err
	}

	r.entry = r.cron.Schedule(sched, cron.FuncJob(r.fire))
	r.spec = spec
	r.description = cfg.Describe()
	metrics.ActiveTriggers.Set(1)
	metrics.ReconcileCount.WithLabelValues(resultInstalled).Inc()

	r.logger.WithFields(logrus.Fields{
		"spec":     spec,
		"schedule": r.description,
	}).Info("Backup job configured")
	return nil
}

func (r *Reconciler) clearLocked() {
	if r.entry != 0 {
		r.cron.Remove(r.entry)
		r.logger.WithField("spec", r.spec).Debug("Removed backup job")
	}
	r.entry = 0
	r.spec = ""
	r.description = ""
	metrics.ActiveTriggers.Set(0)
}

// Triggers returns the installed triggers.
func (r *Reconciler) Triggers() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entry == 0 {
		return []Trigger{}
	}
	entry := r.cron.Entry(r.entry)
	next := entry.Next
	if next.IsZero() && entry.Schedule != nil {
		// the cron runner computes Next only once started
		next = entry.Schedule.Next(time.Now().In(r.loc))
	}
	return []Trigger{{
		ID:          int(r.entry),
		Spec:        r.spec,
		Description: r.description,
		Next:        next,
	}}
}

// fire runs when the trigger matures. Failures are logged and leave the
// trigger in place.
func (r *Reconciler) fire() {
	r.mu.Lock()
	ctx := r.jobCtx
	r.mu.Unlock()

	r.logger.WithField("scope", r.scope).Info("Starting scheduled backup")

	if r.scope == config.ScopeEach && r.targets != nil {
		ids := r.targets.LoadOrDefault().DatabaseIDs()
		results := r.invoker.RunEach(ctx, backup.TriggerScheduled, ids)
		failed := backup.Failed(results)
		if len(failed) > 0 {
			for _, res := range failed {
				r.logger.WithFields(logrus.Fields{
					"database": res.DatabaseID,
					"output":   res.Output,
				}).Error("Scheduled backup failed")
			}
			return
		}
		r.logger.WithField("databases", len(ids)).Info("Scheduled backup completed successfully")
		return
	}

	res := r.invoker.Run(ctx, backup.TriggerScheduled, "")
	if !res.Success {
		r.logger.WithField("output", res.Output).Error("Scheduled backup failed")
		return
	}
	r.logger.Info("Scheduled backup completed successfully")
}

// Shutdown stops polling, removes the trigger and waits for a running
// backup to finish. When ctx ends first the running backup is cancelled
// and ctx's error is returned.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		return nil
	}
	r.state = Stopped
	r.shutDown = true
	r.stopPoll()
	done := r.pollDone
	cancelJobs := r.jobCancel
	r.clearLocked()
	r.mu.Unlock()

	<-done
	stopped := r.cron.Stop()

	select {
	case <-stopped.Done():
		cancelJobs()
		r.logger.Info("Backup scheduler stopped")
		return nil
	case <-ctx.Done():
		cancelJobs()
		r.logger.Warn("Backup scheduler stopped before the running backup finished")
		return ctx.Err()
	}
}

// Wait blocks until ctx is done and then shuts down with the given grace
// period for a running backup.
func (r *Reconciler) Wait(ctx context.Context, grace time.Duration) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}
