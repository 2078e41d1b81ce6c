package adminserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/schedule"
	"github.com/supporttools/GoSQLConsole/pkg/validation"
)

func (s *Server) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.Load()
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendOK(w, "", newConfigView(cfg))
}

func (s *Server) putConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		s.sendErr(w, verr)
		return
	}

	err := s.configs.Update(func(cfg *backupconf.BackupConfig) error {
		cfg.BackupDir = req.BackupDir
		cfg.RetentionDays = req.RetentionDays
		cfg.SMB = req.SMB.apply(cfg.SMB)
		cfg.S3 = req.S3.apply(cfg.S3)
		if len(req.Databases) > 0 {
			cfg.ReplaceDatabases(mergeTargets(cfg, req.Databases))
		}
		return nil
	})
	if err != nil {
		s.sendErr(w, err)
		return
	}
	saved, err := s.configs.Load()
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendOK(w, "Configuration saved", newConfigView(saved))
}

// mergeTargets builds the new target list. Requests carrying a known id keep
// that target's password unless a new one is given; the rest get fresh ids.
func mergeTargets(cfg *backupconf.BackupConfig, reqs []targetRequest) []backupconf.DatabaseTarget {
	out := make([]backupconf.DatabaseTarget, 0, len(reqs))
	var pending []targetRequest
	var used []int
	for _, req := range reqs {
		if req.ID == "" {
			pending = append(pending, req)
			continue
		}
		stored, ok := cfg.Database(req.ID)
		if !ok {
			stored = backupconf.DatabaseTarget{ID: req.ID}
		}
		t := req.apply(stored)
		out = append(out, t)
		if n, err := strconv.Atoi(t.ID); err == nil {
			used = append(used, n)
		}
	}
	for _, req := range pending {
		id := backupconf.NextID(used)
		used = append(used, id)
		out = append(out, req.apply(backupconf.DatabaseTarget{ID: strconv.Itoa(id)}))
	}
	return out
}

func (s *Server) addDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		s.sendErr(w, verr)
		return
	}

	added, err := s.configs.AddDatabase(req.apply(backupconf.DatabaseTarget{}))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, Response{Success: true, Message: "Database added", Data: newTargetView(added)}, http.StatusCreated)
}

func (s *Server) updateDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req targetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID != "" && req.ID != id {
		s.sendError(w, "Database id in body does not match the URL", http.StatusBadRequest)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		s.sendErr(w, verr)
		return
	}

	updated, err := s.configs.UpdateDatabase(id, req.apply)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendOK(w, "Database updated", newTargetView(updated))
}

func (s *Server) deleteDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.configs.DeleteDatabase(id); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendOK(w, "Database deleted", nil)
}

func (s *Server) testDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, err := s.configs.Load()
	if err != nil {
		s.sendErr(w, err)
		return
	}
	target, ok := cfg.Database(id)
	if !ok {
		s.sendErr(w, apperrors.NotFound("database", id))
		return
	}

	res, err := s.prober.Test(r.Context(), target)
	if err != nil {
		s.sendJSON(w, Response{Success: false, Message: "Connection failed: " + err.Error()}, http.StatusOK)
		return
	}
	s.sendOK(w, "Connection successful", res)
}

func (s *Server) testSMBHandler(w http.ResponseWriter, r *http.Request) {
	settings := s.configs.LoadOrDefault().SMB
	if r.ContentLength != 0 {
		var req smbRequest
		if !s.decode(w, r, &req) {
			return
		}
		settings = req.apply(settings)
	}

	res, err := s.mounter.Test(r.Context(), settings)
	if errors.Is(err, apperrors.ErrInvocation) {
		s.sendJSON(w, Response{Success: false, Message: "SMB mount test failed", Data: res}, http.StatusOK)
		return
	}
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendOK(w, "SMB mount test succeeded", res)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.sendOK(w, "", s.scheduleView(s.schedules.Load()))
}

func (s *Server) putScheduleHandler(w http.ResponseWriter, r *http.Request) {
	// the read-only view fields are accepted so a GET body can be sent back
	req := scheduleView{Config: schedule.Default()}
	if !s.decode(w, r, &req) {
		return
	}
	cfg := req.Config
	if err := s.schedules.Save(cfg); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendOK(w, "Schedule saved", s.scheduleView(cfg))
}

func (s *Server) scheduleView(cfg schedule.Config) scheduleView {
	v := scheduleView{Config: cfg, Description: cfg.Describe()}
	if cfg.Enabled {
		if next, err := cfg.Next(s.now().In(s.loc)); err == nil {
			v.NextRun = &next
		}
	}
	return v
}
