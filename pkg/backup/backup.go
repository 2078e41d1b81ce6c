// Package backup invokes the external backup script and converts every
// outcome into a Result.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
	"github.com/supporttools/GoSQLConsole/pkg/metrics"
	"github.com/supporttools/GoSQLConsole/pkg/runner"
)

// Trigger says what started a backup run.
type Trigger string

// Triggers
const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerCLI       Trigger = "cli"
)

// allDatabases is the metrics label for a run without a database id.
const allDatabases = "all"

// Result is the outcome of one invocation of the backup script.
type Result struct {
	RunID      string        `json:"run_id"`
	DatabaseID string        `json:"database_id,omitempty"`
	Trigger    Trigger       `json:"trigger"`
	Success    bool          `json:"success"`
	Output     string        `json:"output"`
	Error      string        `json:"error,omitempty"`
	Err        error         `json:"-"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Hook runs after every invocation. Errors are logged and never change the
// Result.
type Hook interface {
	AfterBackup(ctx context.Context, result Result) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, result Result) error

// AfterBackup calls f.
func (f HookFunc) AfterBackup(ctx context.Context, result Result) error {
	return f(ctx, result)
}

// Options configures an Invoker.
type Options struct {
	Script string
	// Timeout bounds one invocation. Zero means no limit.
	Timeout time.Duration
	// MaxParallel bounds concurrent invocations in RunEach.
	MaxParallel int
	Logger      logrus.FieldLogger
	Hooks       []Hook
}

// Invoker runs the backup script.
type Invoker struct {
	script      string
	timeout     time.Duration
	maxParallel int
	logger      logrus.FieldLogger
	hooks       []Hook
}

// NewInvoker creates an invoker from opts.
func NewInvoker(opts Options) *Invoker {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxParallel := opts.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Invoker{
		script:      opts.Script,
		timeout:     opts.Timeout,
		maxParallel: maxParallel,
		logger:      logger.WithField("component", "backup"),
		hooks:       opts.Hooks,
	}
}

// AddHook registers h to run after every subsequent invocation.
func (i *Invoker) AddHook(h Hook) {
	i.hooks = append(i.hooks, h)
}

// Script returns the path of the backup script.
func (i *Invoker) Script() string {
	return i.script
}

// Run executes the script synchronously. A non-empty databaseID is passed as
// the only argument. Run never panics and never returns an error directly.
func (i *Invoker) Run(ctx context.Context, trigger Trigger, databaseID string) (result Result) {
	result = Result{
		RunID:      uuid.NewString(),
		DatabaseID: databaseID,
		Trigger:    trigger,
		StartedAt:  time.Now(),
	}
	label := databaseID
	if label == "" {
		label = allDatabases
	}
	log := i.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"database": label,
		"trigger":  trigger,
	})

	defer func() {
		if r := recover(); r != nil {
			err := &apperrors.InvocationError{Command: i.script, ExitCode: -1, Err: fmt.Errorf("panic: %v", r)}
			result.Success = false
			result.Err = err
			result.Error = err.Error()
			result.Duration = time.Since(result.StartedAt)
			log.WithError(err).Error("Backup invocation panicked")
		}
	}()

	runCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	var args []string
	if databaseID != "" {
		args = []string{databaseID}
	}

	log.Info("Starting backup")
	out := runner.Run(runCtx, runner.Command{Path: i.script, Args: args})
	result.Duration = out.Duration

	status := metrics.StatusSuccess
	if out.Success() {
		result.Success = true
		result.Output = strings.TrimSpace(out.Stdout)
		metrics.LastBackupTimestamp.WithLabelValues(label).SetToCurrentTime()
		log.WithField("duration", out.Duration.String()).Info("Backup completed successfully")
	} else {
		status = metrics.StatusError
		result.Output = out.Diagnostic()
		result.Err = out.Err
		result.Error = out.Err.Error()
		log.WithError(out.Err).WithField("output", result.Output).Error("Backup failed")
	}
	metrics.BackupCount.WithLabelValues(string(trigger), label, status).Inc()
	metrics.BackupDuration.WithLabelValues(string(trigger), label).Observe(out.Duration.Seconds())

	for _, h := range i.hooks {
		if err := h.AfterBackup(ctx, result); err != nil {
			log.WithError(err).Warn("Post-backup hook failed")
		}
	}
	return result
}

// RunEach runs the script once per id with bounded parallelism. Every id is
// attempted; results are returned in the order of ids.
func (i *Invoker) RunEach(ctx context.Context, trigger Trigger, ids []string) []Result {
	results := make([]Result, len(ids))

	g := new(errgroup.Group)
	g.SetLimit(i.maxParallel)
	for n, id := range ids {
		g.Go(func() error {
			results[n] = i.Run(ctx, trigger, id)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	i.logger.WithFields(logrus.Fields{
		"trigger":   trigger,
		"databases": len(ids),
		"failed":    failed,
	}).Info("Finished backup of all databases")
	return results
}

// Failed returns the results that did not succeed.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}
