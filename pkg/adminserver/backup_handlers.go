package adminserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/catalog"
	"github.com/supporttools/GoSQLConsole/pkg/history"
)

// AllDatabases selects every configured target in a run request.
const AllDatabases = "all"

const defaultHistoryLimit = 50

type backupList struct {
	Backups []catalog.ArchiveRecord `json:"backups"`
	Summary catalog.Summary         `json:"summary"`
}

func (s *Server) listBackupsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.catalog().List()
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if id := r.URL.Query().Get("database"); id != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.DatabaseID == id {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []catalog.ArchiveRecord{}
	}
	s.sendOK(w, "", backupList{Backups: records, Summary: catalog.Summarize(records)})
}

// runBackupHandler starts an on-demand backup. database selects one target,
// "all" fans out over every target and an empty value lets the script pick.
// With wait=true the response carries the results, otherwise it is 202.
func (s *Server) runBackupHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	databaseID := query.Get("database")
	wait, _ := strconv.ParseBool(query.Get("wait"))

	var ids []string
	switch databaseID {
	case "":
	case AllDatabases:
		cfg, err := s.configs.Load()
		if err != nil {
			s.sendErr(w, err)
			return
		}
		ids = cfg.DatabaseIDs()
	default:
		cfg, err := s.configs.Load()
		if err != nil {
			s.sendErr(w, err)
			return
		}
		if _, ok := cfg.Database(databaseID); !ok {
			s.sendErr(w, apperrors.NotFound("database", databaseID))
			return
		}
	}

	run := func(ctx context.Context) []backup.Result {
		if ids != nil {
			return s.runner.RunEach(ctx, backup.TriggerManual, ids)
		}
		return []backup.Result{s.runner.Run(ctx, backup.TriggerManual, databaseID)}
	}

	log := s.logger.WithField("database", databaseID)
	if wait {
		var results []backup.Result
		if !s.runTask(func() { results = run(r.Context()) }) {
			s.sendError(w, "A backup task is already running", http.StatusConflict)
			return
		}
		failed := backup.Failed(results)
		if len(failed) > 0 {
			s.sendJSON(w, Response{
				Success: false,
				Message: fmt.Sprintf("%d of %d backups failed", len(failed), len(results)),
				Data:    results,
			}, http.StatusOK)
			return
		}
		s.sendOK(w, "Backup completed", results)
		return
	}

	started := s.startTask("backup", func(ctx context.Context) {
		results := run(ctx)
		for _, res := range results {
			entry := log.WithFields(logrus.Fields{"run_id": res.RunID, "target": res.DatabaseID})
			if !res.Success {
				entry.WithField("error", res.Error).Error("On-demand backup failed")
				continue
			}
			entry.Info("On-demand backup completed")
		}
	})
	if !started {
		s.sendError(w, "A backup task is already running", http.StatusConflict)
		return
	}
	s.sendJSON(w, Response{Success: true, Message: "Backup task started"}, http.StatusAccepted)
}

func (s *Server) pruneBackupsHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.Load()
	if err != nil {
		s.sendErr(w, err)
		return
	}

	var removed []catalog.ArchiveRecord
	var pruneErr error
	ok := s.runTask(func() {
		now := s.now()
		removed, pruneErr = catalog.New(cfg.BackupDir, s.logger).Prune(cfg.RetentionDays, now)
		if pruneErr == nil {
			s.pruneHistory(r.Context(), cfg.RetentionDays, now)
		}
	})
	if !ok {
		s.sendError(w, "A backup task is already running", http.StatusConflict)
		return
	}
	if pruneErr != nil {
		s.sendErr(w, pruneErr)
		return
	}
	if removed == nil {
		removed = []catalog.ArchiveRecord{}
	}
	s.sendOK(w, fmt.Sprintf("Removed %d backups older than %d days", len(removed), cfg.RetentionDays), removed)
}

func (s *Server) downloadBackupHandler(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	f, rec, err := s.catalog().Open(filename)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Filename))
	http.ServeContent(w, r, rec.Filename, rec.ModifiedAt, f)
}

func (s *Server) deleteBackupHandler(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	c := s.catalog()
	if _, err := c.Resolve(filename); err != nil {
		s.sendErr(w, err)
		return
	}
	if !c.Delete(filename) {
		s.sendError(w, "Failed to delete backup "+filename, http.StatusInternalServerError)
		return
	}
	s.sendOK(w, "Backup deleted", nil)
}

func (s *Server) verifyBackupHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.catalog().Verify(chi.URLParam(r, "filename"))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if !res.Valid {
		s.sendJSON(w, Response{Success: false, Message: "Archive is corrupt", Data: res}, http.StatusOK)
		return
	}
	s.sendOK(w, "Archive is valid", res)
}

// pruneHistory drops history entries that fall outside the retention period.
// Failures are logged; the archives are already gone at this point.
func (s *Server) pruneHistory(ctx context.Context, retentionDays int, now time.Time) {
	if s.history == nil || retentionDays <= 0 {
		return
	}
	if _, err := s.history.PruneBefore(ctx, catalog.Cutoff(retentionDays, now)); err != nil {
		s.logger.WithError(err).Warn("Failed to prune backup history")
	}
}

type historyView struct {
	Enabled     bool                `json:"enabled"`
	Runs        []history.BackupRun `json:"runs"`
	LastSuccess *history.BackupRun  `json:"last_success,omitempty"`
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendOK(w, "Backup history is disabled", historyView{Runs: []history.BackupRun{}})
		return
	}

	query := r.URL.Query()
	limit := defaultHistoryLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			s.sendError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	failedOnly, _ := strconv.ParseBool(query.Get("failed"))

	filter := history.Filter{
		DatabaseID: query.Get("database"),
		Trigger:    query.Get("trigger"),
		FailedOnly: failedOnly,
	}
	runs, err := s.history.Recent(r.Context(), limit, filter)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if runs == nil {
		runs = []history.BackupRun{}
	}
	view := historyView{Enabled: true, Runs: runs}
	if filter.DatabaseID != "" {
		last, err := s.history.LastSuccess(r.Context(), filter.DatabaseID)
		if err != nil {
			s.sendErr(w, err)
			return
		}
		view.LastSuccess = last
	}
	s.sendOK(w, "", view)
}
