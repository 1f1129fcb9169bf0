package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver mirrors the day's DailyAssetSnapshot and trade_logs to an
// S3-compatible bucket as a JSON object, an audit trail independent of the
// primary database. Disabled (every call a no-op) when INFRA_SNAPSHOT_BUCKET
// is unset.
type Archiver struct {
	bucket string
	client *s3.Client
}

// NewArchiver loads the default AWS config (env/shared credentials, same
// resolution chain every aws-sdk-go-v2 service uses) and resolves the
// target bucket from INFRA_SNAPSHOT_BUCKET.
func NewArchiver(ctx context.Context) (*Archiver, error) {
	bucket := os.Getenv("INFRA_SNAPSHOT_BUCKET")
	if bucket == "" {
		return &Archiver{}, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Archiver{bucket: bucket, client: s3.NewFromConfig(cfg)}, nil
}

func (a *Archiver) enabled() bool { return a.bucket != "" && a.client != nil }

type snapshotArchive struct {
	Snapshot  DailyAssetSnapshot `json:"snapshot"`
	TradeLogs []TradeLog         `json:"trade_logs"`
}

// ArchiveDay uploads the day's asset snapshot plus every trade log recorded
// on that date, keyed snapshots/{date}.json; a no-op if archival isn't
// configured.
func (a *Archiver) ArchiveDay(ctx context.Context, snap DailyAssetSnapshot, logs []TradeLog) error {
	if !a.enabled() {
		return nil
	}
	body, err := json.Marshal(snapshotArchive{Snapshot: snap, TradeLogs: logs})
	if err != nil {
		return fmt.Errorf("marshal snapshot archive: %w", err)
	}
	key := fmt.Sprintf("snapshots/%s.json", snap.Date.Format("2006-01-02"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot archive %s: %w", key, err)
	}
	return nil
}

// DailyTradeLogs returns every trade_logs row timestamped on the given
// calendar day, the payload ArchiveDay mirrors to object storage.
func (d *Database) DailyTradeLogs(ctx context.Context, day time.Time) ([]TradeLog, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	var rows []TradeLog
	if err := d.db.WithContext(ctx).
		Where("trade_timestamp >= ? AND trade_timestamp < ?", start, end).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("daily trade logs: %w", err)
	}
	return rows, nil
}
