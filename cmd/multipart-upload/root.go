package main

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:   "multipart-upload",
		Short: "Upload files in parts, resuming interrupted uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// https://github.com/spf13/cobra/issues/340#issuecomment-374617413
			cmd.SilenceUsage = true

			if err := cfg.resolve(env.NewRepository()); err != nil {
				return err
			}

			logger := log.NewLogger()
			logger.EnableDebugLog(cfg.Verbose)

			return run(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.Provider, "provider", "p", providerS3, "storage provider: s3 or api")
	flags.StringArrayVarP(&cfg.Files, "file", "f", nil, "file or glob pattern to upload, can be repeated")
	flags.StringVar(&cfg.Prefix, "prefix", "", "prefix of the object keys")

	flags.StringVar(&cfg.Bucket, "bucket", "", "S3 bucket")
	flags.StringVar(&cfg.Region, "region", "", "S3 region (default $AWS_REGION)")
	flags.StringVar(&cfg.AccessKeyID, "access-key-id", "", "AWS access key id (default $AWS_ACCESS_KEY_ID)")
	flags.StringVar((*string)(&cfg.SecretAccessKey), "secret-access-key", "", "AWS secret access key (default $AWS_SECRET_ACCESS_KEY)")
	flags.StringVar(&cfg.Endpoint, "endpoint", "", "endpoint of an S3 compatible service")
	flags.BoolVar(&cfg.UsePathStyle, "path-style", false, "use path style S3 addressing")
	flags.BoolVar(&cfg.ChecksumSHA256, "checksum", false, "let S3 verify parts with SHA-256 checksums")

	flags.StringVar(&cfg.APIURL, "api-url", "", "base URL of the upload API (default $MPU_API_URL)")
	flags.StringVar((*string)(&cfg.APIToken), "api-token", "", "access token of the upload API (default $MPU_API_TOKEN)")

	flags.StringVar(&cfg.PartSize, "part-size", "", "part size, for example 8MB (default computed from the file size)")
	flags.IntVarP(&cfg.Concurrency, "concurrency", "c", 0, "parts uploaded at the same time (default 5)")
	flags.BoolVar(&cfg.Compress, "compress", false, "compress files with zstd while uploading")
	flags.IntVar(&cfg.CompressionLevel, "compression-level", 3, "zstd compression level")
	flags.StringVar(&cfg.ContentType, "content-type", "", "content type of the uploaded objects")

	flags.StringVar(&cfg.StateDir, "state-dir", ".multipart-upload", "directory the state of failed uploads is saved to")
	flags.StringVar(&cfg.RedisURL, "redis-url", "", "save upload states to Redis instead of --state-dir (default $MPU_REDIS_URL)")
	flags.DurationVar(&cfg.StateTTL, "state-ttl", 7*24*time.Hour, "expiry of the upload states saved to Redis")
	flags.StringVar(&cfg.MetricsFile, "metrics-file", "", "write upload metrics in Prometheus text format to this file")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logs")

	return cmd
}
