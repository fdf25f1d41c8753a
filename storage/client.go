// Package storage uploads local or remote files to a Supabase Storage bucket
// through the resumable upload endpoint.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/zuohuadong/supabase-storage-go/compression"
	"github.com/zuohuadong/supabase-storage-go/storage/resumable"
	"github.com/zuohuadong/supabase-storage-go/storage/verify"
	"github.com/zuohuadong/supabase-storage-go/transport"
)

// ErrVerificationDisabled is returned when verification is requested without an S3 endpoint.
var ErrVerificationDisabled = errors.New("verification requested but no S3 endpoint is configured")

// Verifier checks an uploaded object.
type Verifier interface {
	Verify(ctx context.Context, bucket, key string, size int64) error
}

// UploadInput describes one file to upload.
type UploadInput struct {
	Bucket string
	// Object is the object name inside the bucket. Defaults to the base name of Path.
	Object string
	// Path is a local file path or an http(s) URL.
	Path string
	// ContentType defaults to the type registered for the file extension.
	ContentType string
	Upsert      bool
	// ChunkSize overrides the configured chunk size for this upload.
	ChunkSize int64

	// Compress uploads the zstd compressed file and appends .zst to the object name.
	Compress bool
	// CompressionLevel is the zstd level (1-19). If not provided (0), the default value (3) will be used.
	CompressionLevel int

	// Verify checks the object size on the S3 endpoint after the upload.
	Verify bool

	OnProgress func(committed, total int64)
}

// Result of a finished upload.
type Result struct {
	// Path is "<bucket>/<object>".
	Path      string
	Location  string
	Size      int64
	Chunks    []resumable.ChunkStat
	Conflicts int
	Duration  time.Duration
}

// Client uploads files to the storage API. All uploads of a Client share one
// bounded transport.
type Client struct {
	config       Config
	transport    *transport.Client
	uploader     *resumable.Uploader
	verifier     Verifier
	compressor   *compression.Compressor
	downloader   *downloader
	logger       log.Logger
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
}

// NewClient creates a new Client. When config.S3 is set an S3 verifier is created as well.
func NewClient(ctx context.Context, config Config, logger log.Logger) (*Client, error) {
	if strings.TrimSpace(config.StorageURL) == "" {
		return nil, fmt.Errorf("storage URL must not be empty")
	}

	httpClient := transport.NewClient(config.Limits, logger)
	config.Upload.HTTPClient = httpClient

	var verifier Verifier
	if config.S3 != nil {
		s3Verifier, err := verify.NewS3Verifier(ctx, *config.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("create verifier: %w", err)
		}
		verifier = s3Verifier
	}

	return &Client{
		config:       config,
		transport:    httpClient,
		uploader:     resumable.New(config.Upload, logger),
		verifier:     verifier,
		compressor:   compression.NewCompressor(logger),
		downloader:   newDownloader(logger),
		logger:       logger,
		pathProvider: pathutil.NewPathProvider(),
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// UploadLargeFile uploads one file with the resumable protocol.
func (c *Client) UploadLargeFile(ctx context.Context, input UploadInput) (*Result, error) {
	if strings.TrimSpace(input.Bucket) == "" {
		return nil, fmt.Errorf("bucket name should not be empty")
	}
	if strings.TrimSpace(input.Path) == "" {
		return nil, fmt.Errorf("file path should not be empty")
	}
	if input.Verify && c.verifier == nil {
		return nil, ErrVerificationDisabled
	}

	startTime := time.Now()

	tempDir, err := c.pathProvider.CreateTempDir("storage-upload")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			c.logger.Warnf("Failed to remove temp dir %s: %s", tempDir, err)
		}
	}()

	localPath, err := c.resolveInput(ctx, input.Path, tempDir)
	if err != nil {
		return nil, err
	}

	object := input.Object
	if object == "" {
		object = ObjectName(input.Path)
		if object == "" {
			return nil, fmt.Errorf("no object name can be derived from %s", input.Path)
		}
	}
	contentType := input.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(object))
	}

	if input.Compress {
		compressedPath := filepath.Join(tempDir, filepath.Base(localPath)+compression.Extension)
		c.logger.Infof("Compressing %s...", localPath)
		if err := c.compressor.CompressFile(localPath, compressedPath, input.CompressionLevel); err != nil {
			return nil, fmt.Errorf("compression failed: %w", err)
		}
		localPath = compressedPath
		object += compression.Extension
		contentType = compression.ContentType
	}

	source, err := resumable.OpenFileSource(localPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := source.Close(); err != nil {
			c.logger.Warnf("Failed to close %s: %s", localPath, err)
		}
	}()
	c.logger.Printf("Uploading %s (%s) to %s/%s", localPath, units.HumanSizeWithPrecision(float64(source.Size()), 3), input.Bucket, object)

	uploadResult, err := c.uploaderFor(input).Upload(ctx, resumable.UploadParams{
		Endpoint:    c.config.StorageURL,
		Headers:     c.config.Headers(),
		Bucket:      input.Bucket,
		Object:      object,
		ContentType: contentType,
		Upsert:      input.Upsert,
		Source:      source,
		OnProgress:  input.OnProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", input.Path, err)
	}

	if input.Verify {
		if err := c.verifier.Verify(ctx, input.Bucket, object, uploadResult.Size); err != nil {
			return nil, fmt.Errorf("verify %s: %w", uploadResult.Path, err)
		}
		c.logger.Donef("Verified %s", uploadResult.Path)
	}

	return &Result{
		Path:      uploadResult.Path,
		Location:  uploadResult.Location,
		Size:      uploadResult.Size,
		Chunks:    uploadResult.Chunks,
		Conflicts: uploadResult.Conflicts,
		Duration:  time.Since(startTime),
	}, nil
}

// UploadFiles uploads inputs with at most parallelism files in flight. Every
// file is still uploaded one chunk at a time. The first failure cancels the
// remaining uploads; results of finished uploads are kept at their input index.
func (c *Client) UploadFiles(ctx context.Context, inputs []UploadInput, parallelism int) ([]*Result, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]*Result, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, input := range inputs {
		i, input := i, input
		g.Go(func() error {
			result, err := c.UploadLargeFile(ctx, input)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	return results, g.Wait()
}

func (c *Client) uploaderFor(input UploadInput) *resumable.Uploader {
	if input.ChunkSize <= 0 || input.ChunkSize == c.config.Upload.ChunkSize {
		return c.uploader
	}
	config := c.config.Upload
	config.ChunkSize = input.ChunkSize
	return resumable.New(config, c.logger)
}

func (c *Client) resolveInput(ctx context.Context, path, tempDir string) (string, error) {
	if isRemote(path) {
		name := ObjectName(path)
		if name == "" {
			return "", fmt.Errorf("no file name in URL: %s", path)
		}
		dest := filepath.Join(tempDir, name)
		c.logger.Infof("Downloading %s...", path)
		if err := c.downloader.download(ctx, path, dest); err != nil {
			return "", fmt.Errorf("failed to download %s: %w", path, err)
		}
		return dest, nil
	}

	absPath, err := c.pathModifier.AbsPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse path %s: %w", path, err)
	}
	exists, err := c.pathChecker.IsPathExists(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to check path %s: %w", absPath, err)
	}
	if !exists {
		return "", fmt.Errorf("file doesn't exist: %s", path)
	}
	return absPath, nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// ObjectName returns the last path segment of a local path or URL, or an
// empty string when that segment is not usable as a file or object name.
func ObjectName(path string) string {
	var name string
	if isRemote(path) {
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
		path = strings.TrimSuffix(path, "/")
		name = path[strings.LastIndex(path, "/")+1:]
	} else {
		name = filepath.Base(path)
	}

	switch name {
	case ".", "..", string(filepath.Separator):
		return ""
	}
	return name
}
