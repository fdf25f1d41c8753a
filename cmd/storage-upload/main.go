package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"

	"github.com/zuohuadong/supabase-storage-go/storage"
	"github.com/zuohuadong/supabase-storage-go/storage/resumable"
)

type options struct {
	bucket           string
	prefix           string
	object           string
	contentType      string
	chunkSize        string
	upsert           bool
	compress         bool
	compressionLevel int
	verify           bool
	parallel         int
	envFile          string
	verbose          bool
}

func main() {
	logger := log.NewLogger()

	opts, paths, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger.Errorf("%s", err)
		os.Exit(2)
	}
	logger.EnableDebugLog(opts.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, paths, logger); err != nil {
		logger.Errorf("%s", err)
		if kind := resumable.Kind(err); kind != resumable.KindUnknown {
			logger.Errorf("Failure kind: %s", kind)
		}
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, []string, error) {
	var opts options
	fs := flag.NewFlagSet("storage-upload", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.bucket, "bucket", "", "target bucket (required)")
	fs.StringVar(&opts.prefix, "prefix", "", "object name prefix inside the bucket")
	fs.StringVar(&opts.object, "object", "", "object name, only valid with a single file")
	fs.StringVar(&opts.contentType, "content-type", "", "content type, detected from the extension if empty")
	fs.StringVar(&opts.chunkSize, "chunk-size", "", "chunk size, e.g. 6MiB (overrides STORAGE_CHUNK_SIZE)")
	fs.BoolVar(&opts.upsert, "upsert", false, "overwrite existing objects")
	fs.BoolVar(&opts.compress, "compress", false, "upload zstd compressed files")
	fs.IntVar(&opts.compressionLevel, "compression-level", 0, "zstd compression level (1-19)")
	fs.BoolVar(&opts.verify, "verify", false, "verify object sizes on the S3 endpoint")
	fs.IntVar(&opts.parallel, "parallel", 1, "number of files uploaded at the same time")
	fs.StringVar(&opts.envFile, "env-file", ".env", "optional env file")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable debug logs")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: storage-upload -bucket <bucket> [options] <file|url|glob>...")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	if opts.bucket == "" {
		return options{}, nil, fmt.Errorf("-bucket is required")
	}
	if fs.NArg() == 0 {
		return options{}, nil, fmt.Errorf("at least one file is required")
	}
	return opts, fs.Args(), nil
}

func run(ctx context.Context, opts options, patterns []string, logger log.Logger) error {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
	}

	config, err := storage.ConfigFromEnv(env.NewRepository())
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	var chunkSize int64
	if opts.chunkSize != "" {
		chunkSize, err = units.RAMInBytes(opts.chunkSize)
		if err != nil || chunkSize <= 0 {
			return fmt.Errorf("invalid chunk size: %s", opts.chunkSize)
		}
	}

	client, err := storage.NewClient(ctx, config, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	paths, err := client.ExpandPaths(patterns)
	if err != nil {
		return fmt.Errorf("failed to expand paths: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files to upload")
	}
	if opts.object != "" && len(paths) > 1 {
		return fmt.Errorf("-object can only be used with a single file, got %d", len(paths))
	}

	inputs := make([]storage.UploadInput, 0, len(paths))
	for _, p := range paths {
		object := opts.object
		if name := storage.ObjectName(p); object == "" && name != "" {
			object = path.Join(opts.prefix, name)
		}
		inputs = append(inputs, storage.UploadInput{
			Bucket:           opts.bucket,
			Object:           object,
			Path:             p,
			ContentType:      opts.contentType,
			Upsert:           opts.upsert,
			ChunkSize:        chunkSize,
			Compress:         opts.compress,
			CompressionLevel: opts.compressionLevel,
			Verify:           opts.verify,
		})
	}

	results, err := client.UploadFiles(ctx, inputs, opts.parallel)
	for _, result := range results {
		if result == nil {
			continue
		}
		logger.Donef("%s (%s, %d chunks, %s)", result.Path, units.HumanSize(float64(result.Size)), len(result.Chunks), result.Duration.Round(time.Millisecond))
	}
	return err
}
