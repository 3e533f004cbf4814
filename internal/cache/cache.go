package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client         *redis.Client
	descriptionTTL time.Duration
	videoTTL       time.Duration
}

// Options holds cache entry lifetimes
type Options struct {
	DescriptionTTL time.Duration
	VideoTTL       time.Duration
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int, opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{
		client:         client,
		descriptionTTL: opts.DescriptionTTL,
		videoTTL:       opts.VideoTTL,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Description Cache Operations

// DescriptionKey derives the cache key for one inference input
func DescriptionKey(modelID, prompt string, image []byte) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(image)
	return "description:" + hex.EncodeToString(h.Sum(nil))
}

// GetDescription returns a cached description. The bool is false on a miss.
func (c *Cache) GetDescription(ctx context.Context, key string) (string, bool, error) {
	desc, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get description from cache: %w", err)
	}
	return desc, true, nil
}

// SetDescription caches a description
func (c *Cache) SetDescription(ctx context.Context, key, description string) error {
	return c.client.Set(ctx, key, description, c.descriptionTTL).Err()
}

// Video Cache Operations

// SetVideo caches a video together with its summaries
func (c *Cache) SetVideo(ctx context.Context, video *models.Video) error {
	data, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	key := fmt.Sprintf("video:%s", video.ID)
	return c.client.Set(ctx, key, data, c.videoTTL).Err()
}

// GetVideo retrieves a video from cache. A miss returns nil, nil.
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	key := fmt.Sprintf("video:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video from cache: %w", err)
	}

	var video models.Video
	if err := json.Unmarshal(data, &video); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &video, nil
}

// DeleteVideo removes video from cache
func (c *Cache) DeleteVideo(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("video:%s", videoID)
	return c.client.Del(ctx, key).Err()
}
