// Package writer exports published snapshots to S3 as parquet.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/pipeline"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

const latestObject = "latest.parquet"

// rateRecord is one venue cell of one row; a snapshot becomes one record
// per (symbol, exchange) pair.
type rateRecord struct {
	CycleID        string   `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	GeneratedAt    int64    `parquet:"name=generated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Symbol         string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange       string   `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Rate           *float64 `parquet:"name=rate, type=DOUBLE, repetitiontype=OPTIONAL"`
	IntervalHours  float64  `parquet:"name=interval_hours, type=DOUBLE"`
	APY            *float64 `parquet:"name=apy, type=DOUBLE, repetitiontype=OPTIONAL"`
	Spread         float64  `parquet:"name=spread, type=DOUBLE"`
	TopExchange    string   `parquet:"name=top_exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	SecondExchange string   `parquet:"name=second_exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	TopSpread      float64  `parquet:"name=top_spread, type=DOUBLE"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotWriter overwrites s3://bucket/prefix/latest.parquet with every
// snapshot it is given. No history is kept.
type SnapshotWriter struct {
	bucket      string
	key         string
	compression parquet.CompressionCodec
	client      objectPutter
	log         *logger.Entry
}

// NewSnapshotWriter builds the S3 client from cfg. Static credentials are
// used when both keys are set, the default AWS chain otherwise.
func NewSnapshotWriter(ctx context.Context, cfg appconfig.S3Config) (*SnapshotWriter, error) {
	bucket, err := normalizeBucketName(cfg.Bucket)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return newSnapshotWriter(bucket, cfg.Prefix, cfg.Compression, client), nil
}

func newSnapshotWriter(bucket, prefix, compression string, client objectPutter) *SnapshotWriter {
	return &SnapshotWriter{
		bucket:      bucket,
		key:         objectKey(prefix),
		compression: compressionCodec(compression),
		client:      client,
		log:         logger.GetLogger().WithComponent("snapshot_writer"),
	}
}

// Key is the object key every snapshot is written to.
func (w *SnapshotWriter) Key() string { return w.key }

// Write encodes snap and uploads it.
func (w *SnapshotWriter) Write(ctx context.Context, snap *pipeline.Snapshot) error {
	if snap == nil {
		return nil
	}
	start := time.Now()

	data, records, err := w.encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(w.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{"cycle-id": snap.CycleID.String()},
	}); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", w.bucket, w.key, err)
	}

	entry := w.log.WithFields(logger.Fields{
		"cycle_id":  snap.CycleID.String(),
		"s3_key":    w.key,
		"file_size": len(data),
		"records":   records,
	})
	logger.LogPerformanceEntry(entry, "snapshot_writer", "upload", time.Since(start), nil)
	return nil
}

// Subscriber adapts Write to pipeline.Runner.Subscribe; failures are logged.
func (w *SnapshotWriter) Subscriber() pipeline.Subscriber {
	return func(ctx context.Context, snap *pipeline.Snapshot) {
		if err := w.Write(ctx, snap); err != nil {
			w.log.WithError(err).Error("failed to export snapshot")
		}
	}
}

func (w *SnapshotWriter) encode(snap *pipeline.Snapshot) ([]byte, int, error) {
	records := buildRecords(snap)

	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(rateRecord), 1)
	if err != nil {
		return nil, 0, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = w.compression

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), len(records), nil
}

func buildRecords(snap *pipeline.Snapshot) []rateRecord {
	records := make([]rateRecord, 0, len(snap.Rows)*2)
	generated := snap.GeneratedAt.UnixMilli()

	for _, row := range snap.Rows {
		exchanges := make([]string, 0, len(row.Rates))
		byName := make(map[string]rateRecord, len(row.Rates))
		for ex, r := range row.Rates {
			name := ex.String()
			exchanges = append(exchanges, name)
			byName[name] = rateRecord{
				CycleID:        snap.CycleID.String(),
				GeneratedAt:    generated,
				Symbol:         row.Symbol,
				Exchange:       name,
				Rate:           r.Rate,
				IntervalHours:  r.IntervalHours,
				APY:            r.APY,
				Spread:         row.Spread,
				TopExchange:    row.TopExchange.String(),
				SecondExchange: row.SecondExchange.String(),
				TopSpread:      row.TopSpread,
			}
		}
		sort.Strings(exchanges)
		for _, name := range exchanges {
			records = append(records, byName[name])
		}
	}
	return records
}

func objectKey(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return latestObject
	}
	return path.Join(prefix, latestObject)
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket not configured")
	}
	return bucket, nil
}
