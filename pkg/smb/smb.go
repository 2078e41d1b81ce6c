// Package smb checks the network share configured for archive copies by
// running the mount helper script.
package smb

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/metrics"
	"github.com/supporttools/GoSQLConsole/pkg/runner"
	"github.com/supporttools/GoSQLConsole/pkg/validation"
)

// ErrDisabled is returned when SMB copies are switched off.
var ErrDisabled = errors.New("SMB share is not enabled")

const defaultTimeout = 60 * time.Second

// Mounter runs the mount helper.
type Mounter struct {
	helper  string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewMounter creates a mounter for the helper script at path.
func NewMounter(helper string, logger logrus.FieldLogger) *Mounter {
	return &Mounter{
		helper:  helper,
		timeout: defaultTimeout,
		logger:  logger.WithField("component", "smb"),
	}
}

// TestResult is the outcome of a mount test.
type TestResult struct {
	Share   string `json:"share"`
	Mount   string `json:"mount"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Validate checks that the settings name a share and a mount point.
func Validate(s backupconf.SMBSettings) error {
	verr := &validation.Error{}
	if strings.TrimSpace(s.Share) == "" {
		verr.Add("share", "required", "share is required")
	} else if !strings.HasPrefix(s.Share, "//") {
		verr.Add("share", "unc", "share must look like //server/share")
	}
	if strings.TrimSpace(s.Mount) == "" {
		verr.Add("mount", "required", "mount is required")
	}
	return verr.OrNil()
}

// Test mounts the share with the given settings. The share and mount point
// are passed as arguments, the credentials through SMB_USER, SMB_PASSWORD
// and SMB_DOMAIN so they never appear in the process list.
func (m *Mounter) Test(ctx context.Context, s backupconf.SMBSettings) (TestResult, error) {
	res := TestResult{Share: s.Share, Mount: s.Mount}
	if !s.Enabled {
		return res, ErrDisabled
	}
	if err := Validate(s); err != nil {
		return res, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	domain := s.Domain
	if domain == "" {
		domain = backupconf.DefaultSMBDomain
	}
	out := runner.Run(ctx, runner.Command{
		Path: m.helper,
		Args: []string{s.Share, s.Mount},
		Env: []string{
			"SMB_USER=" + s.User,
			"SMB_PASSWORD=" + s.Password,
			"SMB_DOMAIN=" + domain,
		},
	})

	log := m.logger.WithFields(logrus.Fields{
		"share": s.Share,
		"mount": s.Mount,
	})
	if !out.Success() {
		res.Output = out.Diagnostic()
		metrics.SMBMountTests.WithLabelValues(metrics.StatusError).Inc()
		log.WithError(out.Err).WithField("output", res.Output).Error("SMB mount test failed")
		return res, out.Err
	}

	res.Success = true
	res.Output = strings.TrimSpace(out.Stdout)
	metrics.SMBMountTests.WithLabelValues(metrics.StatusSuccess).Inc()
	log.Info("SMB mount test succeeded")
	return res, nil
}
