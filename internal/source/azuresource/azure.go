// Package azuresource implements a Source over an Azure Blob Storage
// container: each blob under the configured prefix becomes one
// document, keyed by its blob name, with LastModified as the
// change-detection _timestamp and the ETag kept as a document field.
package azuresource

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"connectorsync/internal/logging"
	"connectorsync/internal/source"
)

// Config is the azuresource Source's configuration.
type Config struct {
	AccountURL  string // e.g. https://<account>.blob.core.windows.net
	Container   string
	Prefix      string
	AccountName string
	AccountKey  string
}

// DefaultConfiguration returns the field defaults registered for the
// "azure_blob_storage" service_type.
func DefaultConfiguration() map[string]source.ConfigField {
	return map[string]source.ConfigField{
		"account_url":  {Value: nil, Label: "Storage account URL", Type: source.FieldString},
		"container":    {Value: nil, Label: "Container name", Type: source.FieldString},
		"prefix":       {Value: "", Label: "Blob name prefix", Type: source.FieldString},
		"account_name": {Value: nil, Label: "Account name", Type: source.FieldString},
		"account_key":  {Value: nil, Label: "Account key", Type: source.FieldString},
	}
}

// Adapter is the registry.Adapter for the "azure_blob_storage" service_type.
var Adapter = source.Adapter{
	DefaultConfiguration: DefaultConfiguration,
	New: func(configuration map[string]any) (source.Source, error) {
		cfg, err := parseConfig(configuration)
		if err != nil {
			return nil, err
		}
		return New(cfg, nil)
	},
}

func parseConfig(configuration map[string]any) (Config, error) {
	var cfg Config
	cfg.AccountURL, _ = configuration["account_url"].(string)
	if cfg.AccountURL == "" {
		return cfg, fmt.Errorf("azure source: missing required field %q", "account_url")
	}
	cfg.Container, _ = configuration["container"].(string)
	if cfg.Container == "" {
		return cfg, fmt.Errorf("azure source: missing required field %q", "container")
	}
	cfg.Prefix, _ = configuration["prefix"].(string)
	cfg.AccountName, _ = configuration["account_name"].(string)
	cfg.AccountKey, _ = configuration["account_key"].(string)
	return cfg, nil
}

// Source adapts an Azure Blob Storage container to the source.Source
// capability.
type Source struct {
	cfg       Config
	container *container.Client
	logger    *slog.Logger
}

var _ source.Source = (*Source)(nil)

// New builds an azuresource Source, authenticating with a shared key
// when AccountName/AccountKey are given, or anonymously (public
// container access) otherwise.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	var client *azblob.Client
	var err error
	if cfg.AccountName != "" {
		cred, credErr := service.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure source: shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(cfg.AccountURL, cred, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(cfg.AccountURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure source: %w", err)
	}

	return &Source{
		cfg:       cfg,
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		logger:    logging.Default(logger).With("component", "source", "type", "azure_blob_storage"),
	}, nil
}

// Ping verifies the container is reachable and accessible.
func (s *Source) Ping(ctx context.Context) error {
	if _, err := s.container.GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("azure source: get container properties: %w", err)
	}
	return nil
}

// GetDocs lists every blob under the configured prefix and yields one
// document per blob, keyed by its blob name. LastModified, as the
// document's _timestamp, determines whether a re-download is needed; the
// ETag is recorded but not compared.
func (s *Source) GetDocs(ctx context.Context, filtering source.Filtering) iter.Seq2[source.Yield, error] {
	return func(yield func(source.Yield, error) bool) {
		pager := s.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
			Prefix: &s.cfg.Prefix,
		})

		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				s.logger.Error("list blobs failed, ending sync", "error", err)
				return
			}

			for _, item := range page.Segment.BlobItems {
				if item.Name == nil {
					continue
				}
				blobName := *item.Name
				etag := ""
				if item.Properties != nil && item.Properties.ETag != nil {
					etag = string(*item.Properties.ETag)
				}
				lastModified := time.Time{}
				if item.Properties != nil && item.Properties.LastModified != nil {
					lastModified = *item.Properties.LastModified
				}

				doc := source.Doc{
					ID:        blobName,
					Timestamp: lastModified.UTC().Format(time.RFC3339Nano),
					Fields: map[string]any{
						"name":      blobName,
						"etag":      etag,
						"container": s.cfg.Container,
					},
				}
				download := func(ctx context.Context, doit bool, timestamp string) (map[string]any, error) {
					if !doit {
						return nil, nil
					}
					body, err := s.downloadBlob(ctx, blobName)
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

func (s *Source) downloadBlob(ctx context.Context, name string) (string, error) {
	blob := s.container.NewBlobClient(name)
	resp, err := blob.DownloadStream(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("download blob %q: %w", name, err)
	}
	var buf bytes.Buffer
	body := resp.NewRetryReader(ctx, nil)
	defer func() { _ = body.Close() }()
	if _, err := buf.ReadFrom(body); err != nil {
		return "", fmt.Errorf("read blob %q: %w", name, err)
	}
	return buf.String(), nil
}
