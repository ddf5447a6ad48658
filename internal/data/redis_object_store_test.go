package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/data"
	"github.com/quarrylabs/quarry/internal/testutil"
)

func TestRedisObjectStore_KeyValidation(t *testing.T) {
	store := data.NewRedisObjectStore(nil, 0)
	ctx := context.Background()

	err := store.Upload(ctx, "", "logs/a.log", []byte("x"))
	assert.ErrorContains(t, err, "bucket cannot be empty")

	err = store.Upload(ctx, "worker-logs", "  ", []byte("x"))
	assert.ErrorContains(t, err, "path cannot be empty")

	_, err = store.Download(ctx, "", "logs/a.log")
	assert.ErrorContains(t, err, "bucket cannot be empty")
}

func TestRedisObjectStore_UploadDownload(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	store := data.NewRedisObjectStore(client, time.Minute)
	ctx := context.Background()

	path := "owner-1/job-a/1756166400-0000.log"
	require.NoError(t, store.Upload(ctx, "worker-logs", path, []byte("line one\nline two\n")))

	got, err := store.Download(ctx, "worker-logs", path)
	require.NoError(t, err)
	assert.Equal(t, []byte("line one\nline two\n"), got)
}

func TestRedisObjectStore_DownloadMissingKey(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	store := data.NewRedisObjectStore(client, 0)

	got, err := store.Download(context.Background(), "worker-logs", "owner-1/absent.log")
	require.NoError(t, err)
	assert.Nil(t, got)
}
