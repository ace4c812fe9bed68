// Package s3source implements a Source over an S3 bucket (or
// S3-compatible endpoint) using aws-sdk-go-v2: each object under the
// configured prefix becomes one document, keyed by its key, with
// LastModified as the change-detection _timestamp and the ETag kept as
// a document field.
package s3source

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"connectorsync/internal/logging"
	"connectorsync/internal/source"
)

// Config is the s3source Source's configuration.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // non-empty for S3-compatible services (MinIO, emulators)
	AccessKeyID     string
	SecretAccessKey string
}

// DefaultConfiguration returns the field defaults registered for the
// "s3" service_type.
func DefaultConfiguration() map[string]source.ConfigField {
	return map[string]source.ConfigField{
		"bucket":            {Value: nil, Label: "Bucket name", Type: source.FieldString},
		"prefix":            {Value: "", Label: "Key prefix", Type: source.FieldString},
		"region":            {Value: "us-east-1", Label: "Region", Type: source.FieldString},
		"endpoint":          {Value: "", Label: "Custom endpoint (S3-compatible services)", Type: source.FieldString},
		"access_key_id":     {Value: nil, Label: "Access key id", Type: source.FieldString},
		"secret_access_key": {Value: nil, Label: "Secret access key", Type: source.FieldString},
	}
}

// Adapter is the registry.Adapter for the "s3" service_type.
var Adapter = source.Adapter{
	DefaultConfiguration: DefaultConfiguration,
	New: func(configuration map[string]any) (source.Source, error) {
		cfg, err := parseConfig(configuration)
		if err != nil {
			return nil, err
		}
		return New(context.Background(), cfg, nil)
	},
}

func parseConfig(configuration map[string]any) (Config, error) {
	var cfg Config
	bucket, _ := configuration["bucket"].(string)
	if bucket == "" {
		return cfg, fmt.Errorf("s3 source: missing required field %q", "bucket")
	}
	cfg.Bucket = bucket
	cfg.Prefix, _ = configuration["prefix"].(string)
	cfg.Region, _ = configuration["region"].(string)
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	cfg.Endpoint, _ = configuration["endpoint"].(string)
	cfg.AccessKeyID, _ = configuration["access_key_id"].(string)
	cfg.SecretAccessKey, _ = configuration["secret_access_key"].(string)
	return cfg, nil
}

// Source adapts an S3 bucket to the source.Source capability.
type Source struct {
	cfg    Config
	client *s3.Client
	logger *slog.Logger
}

var (
	_ source.Source             = (*Source)(nil)
	_ source.BulkOptionsTweaker = (*Source)(nil)
)

// s3ConcurrentDownloads raises concurrent_downloads above the
// coordinator's default: independent S3 GETs overlap network latency
// rather than contending for a shared resource.
const s3ConcurrentDownloads = 20

// New builds an s3source Source, resolving AWS credentials from the
// environment unless an explicit access key pair is given in cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	optFns := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3 source: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Source{
		cfg:    cfg,
		client: client,
		logger: logging.Default(logger).With("component", "source", "type", "s3"),
	}, nil
}

// Ping verifies the bucket is reachable and accessible.
func (s *Source) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("s3 source: head bucket: %w", err)
	}
	return nil
}

// GetDocs lists every object under the configured prefix and yields one
// document per object, keyed by its key. LastModified, as the document's
// _timestamp, determines whether a re-download is needed; the ETag is
// recorded but not compared.
func (s *Source) GetDocs(ctx context.Context, filtering source.Filtering) iter.Seq2[source.Yield, error] {
	return func(yield func(source.Yield, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.cfg.Bucket),
			Prefix: aws.String(s.cfg.Prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				s.logger.Error("list objects failed, ending sync", "error", err)
				return
			}

			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				etag := aws.ToString(obj.ETag)
				lastModified := time.Time{}
				if obj.LastModified != nil {
					lastModified = *obj.LastModified
				}

				doc := source.Doc{
					ID:        key,
					Timestamp: lastModified.UTC().Format(time.RFC3339Nano),
					Fields: map[string]any{
						"key":    key,
						"etag":   etag,
						"size":   aws.ToInt64(obj.Size),
						"bucket": s.cfg.Bucket,
					},
				}
				download := func(ctx context.Context, doit bool, timestamp string) (map[string]any, error) {
					if !doit {
						return nil, nil
					}
					body, err := s.getObject(ctx, key)
					if err != nil {
						return nil, err
					}
					return map[string]any{"body": body}, nil
				}

				if !yield(source.Yield{Doc: doc, Download: download}, nil) {
					return
				}
			}
		}
	}
}

// TweakBulkOptions raises concurrent_downloads for S3, where overlapping
// GETs are bound by network round-trip time rather than a shared local
// resource.
func (s *Source) TweakBulkOptions(opts source.BulkOptions) source.BulkOptions {
	opts.ConcurrentDownloads = s3ConcurrentDownloads
	return opts
}

func (s *Source) getObject(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read object %q: %w", key, err)
	}
	return string(data), nil
}
