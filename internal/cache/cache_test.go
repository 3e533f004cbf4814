package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0, Options{
		DescriptionTTL: time.Hour,
		VideoTTL:       time.Minute,
	})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, _ := setupTestCache(t)
	require.NotNil(t, cache)
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestNewCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	host, port := mr.Host(), mr.Server().Addr().Port
	mr.Close()

	_, err = NewCache(host, port, "", 0, Options{})
	assert.Error(t, err)
}

func TestCache_DescriptionOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	key := DescriptionKey("smolvlm", "Describe", []byte{0xff, 0xd8})

	_, ok, err := cache.GetDescription(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "expected a miss")

	require.NoError(t, cache.SetDescription(ctx, key, "a kitchen"))

	desc, ok, err := cache.GetDescription(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a kitchen", desc)

	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	_, ok, err = cache.GetDescription(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "expected entry to expire")
}

func TestDescriptionKey(t *testing.T) {
	base := DescriptionKey("m", "p", []byte("img"))

	assert.Equal(t, base, DescriptionKey("m", "p", []byte("img")))
	assert.NotEqual(t, base, DescriptionKey("m2", "p", []byte("img")))
	assert.NotEqual(t, base, DescriptionKey("m", "p2", []byte("img")))
	assert.NotEqual(t, base, DescriptionKey("m", "p", []byte("img2")))
	// Field boundaries are separated.
	assert.NotEqual(t, DescriptionKey("ab", "c", nil), DescriptionKey("a", "bc", nil))
	assert.Contains(t, base, "description:")
}

func TestCache_VideoOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	title := "demo"
	video := &models.Video{
		ID:            "test-video-1",
		VideoURL:      "https://example.com/demo.mp4",
		Title:         &title,
		Duration:      "1:05",
		Status:        models.VideoStatusCompleted,
		FrameInterval: 2,
		TotalFrames:   1,
		Summaries: []*models.Summary{{
			ID:            "s-1",
			VideoID:       "test-video-1",
			SummaryRecord: models.SummaryRecord{Timestamp: "0:00", Description: "intro"},
		}},
	}

	require.NoError(t, cache.SetVideo(ctx, video))
	assert.Equal(t, time.Minute, mr.TTL("video:test-video-1"))

	got, err := cache.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, video.Duration, got.Duration)
	assert.Equal(t, "demo", *got.Title)
	require.Len(t, got.Summaries, 1)
	assert.Equal(t, "intro", got.Summaries[0].Description)

	require.NoError(t, cache.DeleteVideo(ctx, video.ID))
	got, err = cache.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_GetVideoCorrupt(t *testing.T) {
	cache, mr := setupTestCache(t)
	require.NoError(t, mr.Set("video:bad", "{not json"))

	_, err := cache.GetVideo(context.Background(), "bad")
	assert.Error(t, err)
}
