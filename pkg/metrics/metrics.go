// Package metrics provides Prometheus metrics for backup scheduling and archives.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics
var (
	// BackupCount tracks the total number of backup invocations
	BackupCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysql_backup_total",
		Help: "The total number of MySQL backup invocations",
	}, []string{"trigger", "database", "status"})

	// BackupDuration measures time taken by the backup script
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mysql_backup_duration_seconds",
		Help:    "Time taken to run the backup script",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"trigger", "database"})

	// LastBackupTimestamp records timestamp of the last successful backup
	LastBackupTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mysql_backup_last_timestamp",
		Help: "Timestamp of the last successful backup",
	}, []string{"database"})

	// ReconcileCount counts scheduler reconciliation passes by outcome
	ReconcileCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysql_backup_scheduler_reconcile_total",
		Help: "The total number of scheduler reconciliation passes",
	}, []string{"result"})

	// ActiveTriggers is the number of installed schedule triggers
	ActiveTriggers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mysql_backup_scheduler_active_triggers",
		Help: "Number of schedule triggers currently installed",
	})

	// ArchiveCount is the number of archives seen by the last catalog scan
	ArchiveCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mysql_backup_archives",
		Help: "Number of backup archives in the backup directory",
	})

	// ArchiveBytes is the total size of archives seen by the last catalog scan
	ArchiveBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mysql_backup_archives_size_bytes",
		Help: "Total size of backup archives in the backup directory",
	})

	// ArchiveDeletes counts deleted archives
	ArchiveDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysql_backup_deletions_total",
		Help: "The total number of backup archives deleted",
	}, []string{"reason"})

	// S3UploadCount tracks the total number of S3 uploads performed
	S3UploadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysql_backup_s3_upload_total",
		Help: "The total number of S3 uploads performed",
	}, []string{"database", "status"})

	// S3UploadDuration measures time taken to upload an archive to S3
	S3UploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mysql_backup_s3_upload_duration_seconds",
		Help:    "Time taken to upload backup to S3",
		Buckets: prometheus.DefBuckets,
	}, []string{"database"})

	// SMBMountTests counts SMB mount tests by outcome
	SMBMountTests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysql_backup_smb_mount_test_total",
		Help: "The total number of SMB mount tests",
	}, []string{"status"})
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NewServer returns an HTTP server exposing /metrics and /health on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
