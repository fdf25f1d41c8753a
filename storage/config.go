package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
	"github.com/zuohuadong/supabase-storage-go/storage/resumable"
	"github.com/zuohuadong/supabase-storage-go/storage/verify"
	"github.com/zuohuadong/supabase-storage-go/transport"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvSupabaseURL          = "SUPABASE_URL"
	EnvStorageURL           = "SUPABASE_STORAGE_URL"
	EnvSupabaseKey          = "SUPABASE_KEY"
	EnvChunkSize            = "STORAGE_CHUNK_SIZE"
	EnvMaxAttempts          = "STORAGE_MAX_ATTEMPTS"
	EnvRetryWait            = "STORAGE_RETRY_WAIT"
	EnvMaxConcurrent        = "STORAGE_MAX_CONCURRENT_REQUESTS"
	EnvRequestsPerSecond    = "STORAGE_REQUESTS_PER_SECOND"
	EnvS3Endpoint           = "STORAGE_S3_ENDPOINT"
	EnvS3Region             = "STORAGE_S3_REGION"
	EnvS3AccessKeyID        = "STORAGE_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey    = "STORAGE_S3_SECRET_ACCESS_KEY"
	storagePathSuffix       = "/storage/v1"
	defaultS3Region         = "us-east-1"
	authorizationBearerType = "Bearer"
)

// Config holds everything a Client needs.
type Config struct {
	// StorageURL is the storage API base URL, e.g. https://xyz.supabase.co/storage/v1
	StorageURL string
	// APIKey is sent both as the apikey header and as a bearer token.
	APIKey string

	Upload resumable.Config
	Limits transport.Limits

	// S3 enables post-upload verification when not nil.
	S3 *verify.S3Params
}

// Headers returns the headers sent with every storage request.
func (c Config) Headers() map[string]string {
	return map[string]string{
		"apikey":        c.APIKey,
		"Authorization": fmt.Sprintf("%s %s", authorizationBearerType, c.APIKey),
	}
}

// ConfigFromEnv reads the client configuration from envRepo. Unset tuning
// variables keep their defaults.
func ConfigFromEnv(envRepo env.Repository) (Config, error) {
	storageURL := strings.TrimSpace(envRepo.Get(EnvStorageURL))
	if storageURL == "" {
		supabaseURL := strings.TrimSpace(envRepo.Get(EnvSupabaseURL))
		if supabaseURL == "" {
			return Config{}, fmt.Errorf("the secret '%s' is not defined", EnvSupabaseURL)
		}
		storageURL = strings.TrimSuffix(supabaseURL, "/") + storagePathSuffix
	}

	apiKey := envRepo.Get(EnvSupabaseKey)
	if apiKey == "" {
		return Config{}, fmt.Errorf("the secret '%s' is not defined", EnvSupabaseKey)
	}

	config := Config{
		StorageURL: strings.TrimSuffix(storageURL, "/"),
		APIKey:     apiKey,
		Upload:     resumable.DefaultConfig(),
		Limits:     transport.DefaultLimits(),
	}

	if value := envRepo.Get(EnvChunkSize); value != "" {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s (%s): %w", EnvChunkSize, value, err)
		}
		if size <= 0 {
			return Config{}, fmt.Errorf("invalid %s (%s): must be positive", EnvChunkSize, value)
		}
		config.Upload.ChunkSize = size
	}

	if value := envRepo.Get(EnvMaxAttempts); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil || attempts < 1 {
			return Config{}, fmt.Errorf("invalid %s (%s): must be a positive integer", EnvMaxAttempts, value)
		}
		config.Upload.MaxAttempts = attempts
	}

	if value := envRepo.Get(EnvRetryWait); value != "" {
		wait, err := time.ParseDuration(value)
		if err != nil || wait < 0 {
			return Config{}, fmt.Errorf("invalid %s (%s): must be a non-negative duration", EnvRetryWait, value)
		}
		if wait == 0 {
			wait = resumable.NoRetryWait
		}
		config.Upload.RetryWait = wait
	}

	if value := envRepo.Get(EnvMaxConcurrent); value != "" {
		limit, err := strconv.ParseInt(value, 10, 64)
		if err != nil || limit < 1 {
			return Config{}, fmt.Errorf("invalid %s (%s): must be a positive integer", EnvMaxConcurrent, value)
		}
		config.Limits.MaxConcurrentRequests = limit
	}

	if value := envRepo.Get(EnvRequestsPerSecond); value != "" {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("invalid %s (%s): must be a non-negative number", EnvRequestsPerSecond, value)
		}
		config.Limits.RequestsPerSecond = rps
	}

	if endpoint := envRepo.Get(EnvS3Endpoint); endpoint != "" {
		region := envRepo.Get(EnvS3Region)
		if region == "" {
			region = defaultS3Region
		}
		config.S3 = &verify.S3Params{
			Endpoint:        endpoint,
			Region:          region,
			AccessKeyID:     envRepo.Get(EnvS3AccessKeyID),
			SecretAccessKey: envRepo.Get(EnvS3SecretAccessKey),
		}
	}

	return config, nil
}
