package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/wakeword-trim/internal/config"
	"github.com/maauso/wakeword-trim/internal/job"
	"github.com/maauso/wakeword-trim/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:               8080,
		WorkDir:            t.TempDir(),
		TrimThreshold:      350,
		TrimWindowSec:      0.1,
		ExpectedSampleRate: 16000,
		MaxConcurrentFiles: 2,
		S3KeyPrefix:        "trimmed",
	}
}

func TestNewDependencies_Local(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := NewDependencies(cfg, logger)
	require.NoError(t, err)

	require.NotNil(t, deps.TrimService)
	require.NotNil(t, deps.Metrics)
	local, ok := deps.Storage.(*storage.LocalStorage)
	require.True(t, ok, "expected local storage, got %T", deps.Storage)
	assert.Equal(t, cfg.WorkDir, local.Root())
	assert.Equal(t, cfg.TrimOpts(), deps.TrimService.Defaults())

	// push_to_s3 is rejected without S3 configuration
	_, err = deps.TrimService.CreateJob(context.Background(), job.CreateInput{
		Clips:    []job.ClipInput{{Name: "a.wav", Data: []byte("x")}},
		PushToS3: true,
	})
	assert.ErrorIs(t, err, storage.ErrS3NotConfigured)
}

func TestNewDependencies_S3(t *testing.T) {
	cfg := testConfig(t)
	cfg.S3Bucket = "bucket"
	cfg.S3Region = "us-east-1"
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.AWSAccessKeyID = "key"
	cfg.AWSSecretAccessKey = "secret"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := NewDependencies(cfg, logger)
	require.NoError(t, err)

	s3Store, ok := deps.Storage.(*storage.S3Storage)
	require.True(t, ok, "expected S3 storage, got %T", deps.Storage)
	assert.Equal(t, "trimmed/job-1/a.wav", s3Store.ObjectKey("job-1/a.wav"))
}
