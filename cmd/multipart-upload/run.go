package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-multipart/upload"
	"github.com/bitrise-io/go-multipart/upload/network"
	"github.com/bitrise-io/go-multipart/upload/parts"
	"github.com/bitrise-io/go-multipart/upload/statestore"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const zstdContentType = "application/zstd"

type uploadOptions struct {
	prefix           string
	partSize         int64
	concurrency      int
	compress         bool
	compressionLevel int
	contentType      string
	metrics          *upload.Metrics
}

func run(ctx context.Context, cfg config, logger log.Logger) error {
	pathModifier := pathutil.NewPathModifier()

	files, err := expandFiles(cfg.Files, pathModifier, logger)
	if err != nil {
		return err
	}

	store, err := newStore(cfg, pathModifier)
	if err != nil {
		return err
	}

	metrics := upload.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := uploadOptions{
		prefix:           cfg.Prefix,
		partSize:         cfg.partSize,
		concurrency:      cfg.Concurrency,
		compress:         cfg.Compress,
		compressionLevel: cfg.CompressionLevel,
		contentType:      cfg.ContentType,
		metrics:          metrics,
	}

	switch cfg.Provider {
	case providerS3:
		client, err := network.NewS3ClientFromParams(ctx, network.S3Params{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: string(cfg.SecretAccessKey),
			Endpoint:        cfg.Endpoint,
			UsePathStyle:    cfg.UsePathStyle,
			ChecksumSHA256:  cfg.ChecksumSHA256,
		}, logger)
		if err != nil {
			return err
		}

		idFor := func(key string) upload.ID {
			return upload.ID{}.With(network.S3BucketKey, cfg.Bucket).With(network.S3ObjectKey, key)
		}
		report := func(file string, result network.S3Result) {
			logger.Printf("%s -> s3://%s/%s", file, result.Bucket, result.Key)
		}
		err = uploadFiles(ctx, upload.NewManager[network.S3Result](client, logger), store, files, idFor, report, opts, logger)
	case providerAPI:
		client := network.NewAPIClient(retryhttp.NewClient(logger), cfg.APIURL, string(cfg.APIToken), logger)

		idFor := func(key string) upload.ID {
			return upload.ID{}.With(network.APICacheKeyKey, key)
		}
		report := func(file string, result network.APIResult) {
			logger.Printf("%s -> upload %s", file, result.UploadID)
		}
		err = uploadFiles(ctx, upload.NewManager[network.APIResult](client, logger), store, files, idFor, report, opts, logger)
	default:
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	if cfg.MetricsFile != "" {
		if writeErr := prometheus.WriteToTextfile(cfg.MetricsFile, registry); writeErr != nil {
			logger.Warnf("Failed to write metrics: %s", writeErr)
		}
	}

	return err
}

func newStore(cfg config, pathModifier pathutil.PathModifier) (statestore.Store, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return statestore.NewRedisStore(redis.NewClient(opts), "", cfg.StateTTL), nil
	}

	dir, err := pathModifier.AbsPath(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("invalid state dir: %w", err)
	}
	return statestore.NewFileStore(dir), nil
}

// uploadFiles uploads every file, resuming the ones with a saved state.
// A failure doesn't stop the remaining files, unless the context is done.
func uploadFiles[R any](
	ctx context.Context,
	manager *upload.Manager[R],
	store statestore.Store,
	files []string,
	idFor func(key string) upload.ID,
	report func(file string, result R),
	opts uploadOptions,
	logger log.Logger,
) error {
	var errs *multierror.Error
	for _, file := range files {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}

		key := objectKey(opts.prefix, file, opts.compress)

		logger.Println()
		logger.Infof("Uploading %s", file)

		result, err := uploadFile(ctx, manager, store, file, key, idFor(key), opts, logger)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", file, err))
			continue
		}
		report(file, result)
	}

	return errs.ErrorOrNil()
}

func uploadFile[R any](
	ctx context.Context,
	manager *upload.Manager[R],
	store statestore.Store,
	file, key string,
	id upload.ID,
	opts uploadOptions,
	logger log.Logger,
) (R, error) {
	var zero R

	state, err := store.Load(ctx, key)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		state = nil
	case err != nil:
		return zero, fmt.Errorf("load upload state: %w", err)
	default:
		logger.Infof("Resuming from saved state, %d part(s) already uploaded", len(state.UploadedParts()))
	}

	src, closeSrc, err := openSource(file, opts)
	if err != nil {
		return zero, err
	}
	defer func() {
		if err := closeSrc(); err != nil {
			logger.Warnf("Failed to close %s: %s", file, err)
		}
	}()

	config := upload.Config{
		ID:          id,
		State:       state,
		Concurrency: opts.concurrency,
		ContentType: opts.contentType,
		Metrics:     opts.metrics,
	}
	if state == nil {
		config.PartSize = opts.partSize
	}
	if config.ContentType == "" && opts.compress {
		config.ContentType = zstdContentType
	}

	result, err := manager.Upload(ctx, src, config)
	if err != nil {
		var failure *upload.Failure
		if errors.As(err, &failure) && failure.State != nil && failure.State.IsInitiated() {
			if saveErr := store.Save(context.WithoutCancel(ctx), key, failure.State); saveErr != nil {
				logger.Warnf("Failed to save upload state: %s", saveErr)
			} else {
				logger.Warnf("Upload state saved, run again to resume")
			}
		}
		return zero, err
	}

	if err := store.Delete(ctx, key); err != nil {
		logger.Warnf("Failed to delete upload state: %s", err)
	}
	return result, nil
}

func openSource(file string, opts uploadOptions) (parts.Source, func() error, error) {
	if !opts.compress {
		src, err := parts.OpenFile(file)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	src, err := parts.NewCompressedSource(f, opts.compressionLevel)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return src, closeAll(src, f), nil
}

func closeAll(closers ...io.Closer) func() error {
	return func() error {
		var errs *multierror.Error
		for _, c := range closers {
			if err := c.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return errs.ErrorOrNil()
	}
}

// objectKey maps a local path to the key it is uploaded under.
func objectKey(prefix, file string, compressed bool) string {
	key := strings.TrimLeft(filepath.ToSlash(filepath.Clean(file)), "/")
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	if prefix != "" {
		key = path.Join(prefix, key)
	}
	if compressed {
		key += ".zst"
	}
	return key
}

func expandFiles(patterns []string, pathModifier pathutil.PathModifier, logger log.Logger) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			files = appendFile(files, pattern, logger)
			continue
		}

		base, glob := doublestar.SplitPattern(pattern)
		absBase, err := pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), glob, doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			logger.Warnf("No match for pattern: %s", pattern)
			continue
		}
		for _, match := range matches {
			files = appendFile(files, filepath.Join(base, match), logger)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no file to upload")
	}
	return files, nil
}

func appendFile(files []string, file string, logger log.Logger) []string {
	info, err := os.Stat(file)
	switch {
	case err != nil:
		logger.Warnf("Skipping %s: %s", file, err)
	case info.IsDir():
		logger.Debugf("Skipping directory %s", file)
	default:
		files = append(files, file)
	}
	return files
}
