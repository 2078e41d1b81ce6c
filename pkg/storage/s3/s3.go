// Package s3 offloads new backup archives to S3-compatible object storage.
package s3

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/catalog"
	"github.com/supporttools/GoSQLConsole/pkg/metrics"
)

const (
	uploadTimeout = 5 * time.Minute
	maxAttempts   = 4
)

// API is the part of the S3 client used for uploads.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient creates an S3 client from the offload settings. Static
// credentials are used when an access key is configured, otherwise the
// default AWS credential chain applies.
func NewClient(ctx context.Context, settings backupconf.S3Settings) (*s3.Client, error) {
	region := settings.Region
	if region == "" {
		region = backupconf.DefaultS3Region
	}
	sdkOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if settings.AccessKey != "" {
		sdkOptions = append(sdkOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, sdkOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "AWS SDK config initialization error")
	}

	var s3Options []func(*s3.Options)
	if settings.Endpoint != "" {
		// S3-compatible storage generally needs path-style URLs
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(settings.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Options...), nil
}

// Uploader copies archives into one bucket.
type Uploader struct {
	api     API
	bucket  string
	prefix  string
	logger  logrus.FieldLogger
	backoff func() backoff.BackOff
}

// NewUploader creates an uploader for the bucket and prefix in settings.
func NewUploader(api API, settings backupconf.S3Settings, logger logrus.FieldLogger) *Uploader {
	return &Uploader{
		api:    api,
		bucket: settings.Bucket,
		prefix: settings.Prefix,
		logger: logger.WithField("component", "s3"),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return backoff.WithMaxRetries(b, maxAttempts-1)
		},
	}
}

// ObjectKey returns the key an archive is stored under:
// <prefix>/<database id>/<file name>.
func ObjectKey(prefix, databaseID, filename string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		return fmt.Sprintf("%s/%s/%s", prefix, databaseID, filename)
	}
	return fmt.Sprintf("%s/%s", databaseID, filename)
}

// Upload puts the file at path under key, retrying transient failures with
// exponential backoff.
func (u *Uploader) Upload(ctx context.Context, path, key, databaseID string) error {
	start := time.Now()
	log := u.logger.WithFields(logrus.Fields{
		"bucket": u.bucket,
		"key":    key,
	})

	attempt := 0
	op := func() error {
		attempt++
		file, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to open backup file for S3 upload"))
		}
		defer file.Close()

		putCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()
		_, err = u.api.PutObject(putCtx, &s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
			Body:   file,
		})
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("S3 upload attempt failed")
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(u.backoff(), ctx)); err != nil {
		metrics.S3UploadCount.WithLabelValues(databaseID, metrics.StatusError).Inc()
		return errors.Wrapf(err, "failed to upload backup to s3://%s/%s", u.bucket, key)
	}

	metrics.S3UploadDuration.WithLabelValues(databaseID).Observe(time.Since(start).Seconds())
	metrics.S3UploadCount.WithLabelValues(databaseID, metrics.StatusSuccess).Inc()

	fields := logrus.Fields{"attempts": attempt}
	if info, err := os.Stat(path); err == nil {
		fields["size"] = humanize.IBytes(uint64(info.Size()))
	}
	log.WithFields(fields).Info("Successfully uploaded backup to S3")
	return nil
}

// OffloadSince uploads every archive in dir modified at or after since. A
// non-empty databaseID limits the upload to that target's archives. All
// archives are attempted; the failures are returned together.
func (u *Uploader) OffloadSince(ctx context.Context, dir string, since time.Time, databaseID string) ([]string, error) {
	records, err := catalog.New(dir, u.logger).List()
	if err != nil {
		return nil, err
	}

	var uploaded []string
	var failures []string
	for _, rec := range records {
		if rec.ModifiedAt.Before(since) {
			continue
		}
		if databaseID != "" && backupconf.CompareIDs(rec.DatabaseID, databaseID) != 0 {
			continue
		}
		key := ObjectKey(u.prefix, rec.DatabaseID, rec.Filename)
		if err := u.Upload(ctx, rec.Path, key, rec.DatabaseID); err != nil {
			u.logger.WithError(err).WithField("filename", rec.Filename).Error("Failed to offload backup")
			failures = append(failures, rec.Filename)
			continue
		}
		uploaded = append(uploaded, key)
	}

	if len(failures) > 0 {
		return uploaded, errors.Errorf("failed to offload %d of %d archives: %s",
			len(failures), len(failures)+len(uploaded), strings.Join(failures, ", "))
	}
	return uploaded, nil
}
