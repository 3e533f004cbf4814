package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

const (
	// MaxPageSize caps summary and video page sizes
	MaxPageSize = 1000
	// DefaultPageSize is the video page size when none is given
	DefaultPageSize = 50
)

// Repository provides database operations
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{db: db, logger: logger.WithComponent("database")}
}

func (r *Repository) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordDatabaseOperation(op, elapsed.Seconds(), err)
	r.logger.LogDatabaseOperation(op, elapsed, err)
}

// ClampLimit bounds a page size to 1..MaxPageSize, using def when unset
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return limit
}

// Videos

const videoColumns = `id, video_url, title, duration, status, mode, key_topics,
	frame_interval, total_frames, error_msg, created_at, updated_at`

func scanVideo(row pgx.Row, video *models.Video) error {
	return row.Scan(
		&video.ID, &video.VideoURL, &video.Title, &video.Duration, &video.Status,
		&video.Mode, &video.KeyTopics, &video.FrameInterval, &video.TotalFrames,
		&video.ErrorMsg, &video.CreatedAt, &video.UpdatedAt,
	)
}

// CreateVideo creates a new video record
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) (err error) {
	start := time.Now()
	defer func() { r.observe("create_video", start, err) }()

	if video.ID == "" {
		video.ID = uuid.New().String()
	}
	if video.Mode == "" {
		video.Mode = models.ModeLocal
	}

	query := `
		INSERT INTO videos (id, video_url, title, duration, status, mode, key_topics,
		                    frame_interval, total_frames, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		video.ID, video.VideoURL, video.Title, video.Duration, video.Status, video.Mode,
		video.KeyTopics, video.FrameInterval, video.TotalFrames, video.ErrorMsg,
	).Scan(&video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// UpdateVideo updates the mutable fields of a video record
func (r *Repository) UpdateVideo(ctx context.Context, video *models.Video) (err error) {
	start := time.Now()
	defer func() { r.observe("update_video", start, err) }()

	query := `
		UPDATE videos
		SET duration = $2, status = $3, key_topics = $4, total_frames = $5,
		    error_msg = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		video.ID, video.Duration, video.Status, video.KeyTopics, video.TotalFrames, video.ErrorMsg,
	).Scan(&video.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("video %s: %w", video.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (_ *models.Video, err error) {
	start := time.Now()
	defer func() { r.observe("get_video", start, err) }()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}

	var video models.Video
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	err = scanVideo(r.db.Pool.QueryRow(ctx, query, id), &video)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

// ListVideos returns a page of videos, newest first, plus the total count
func (r *Repository) ListVideos(ctx context.Context, limit, offset int) (_ []*models.Video, _ int, err error) {
	start := time.Now()
	defer func() { r.observe("list_videos", start, err) }()

	var total int
	if err = r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count videos: %w", err)
	}

	query := `SELECT ` + videoColumns + ` FROM videos ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, ClampLimit(limit, DefaultPageSize), max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	videos := []*models.Video{}
	for rows.Next() {
		var video models.Video
		if err = scanVideo(rows, &video); err != nil {
			return nil, 0, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, &video)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list videos: %w", err)
	}

	return videos, total, nil
}

// Summaries

// CreateSummaries stores all records of a run in one COPY
func (r *Repository) CreateSummaries(ctx context.Context, videoID string, records []models.SummaryRecord) (_ []*models.Summary, err error) {
	start := time.Now()
	defer func() { r.observe("create_summaries", start, err) }()

	now := time.Now().UTC()
	summaries := make([]*models.Summary, len(records))
	for i, rec := range records {
		summaries[i] = &models.Summary{
			ID:            uuid.New().String(),
			VideoID:       videoID,
			SummaryRecord: rec,
			CreatedAt:     now,
		}
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	columns := []string{"id", "video_id", "timestamp", "timestamp_seconds", "description", "frame_number", "created_at"}
	_, err = r.db.Pool.CopyFrom(ctx, pgx.Identifier{"summaries"}, columns,
		pgx.CopyFromSlice(len(summaries), func(i int) ([]any, error) {
			s := summaries[i]
			return []any{s.ID, s.VideoID, s.Timestamp, s.TimestampSeconds, s.Description, s.FrameNumber, s.CreatedAt}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create summaries: %w", err)
	}

	return summaries, nil
}

const summaryColumns = `id, video_id, timestamp, timestamp_seconds, description, frame_number, created_at`

func scanSummary(row pgx.Row, s *models.Summary, extra ...any) error {
	dest := append([]any{
		&s.ID, &s.VideoID, &s.Timestamp, &s.TimestampSeconds, &s.Description, &s.FrameNumber, &s.CreatedAt,
	}, extra...)
	return row.Scan(dest...)
}

// GetSummaries returns a page of a video's summaries in timestamp order
// plus the total count. limit <= 0 returns every summary.
func (r *Repository) GetSummaries(ctx context.Context, videoID string, skip, limit int) (_ []*models.Summary, _ int, err error) {
	start := time.Now()
	defer func() { r.observe("get_summaries", start, err) }()

	var total int
	err = r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM summaries WHERE video_id = $1`, videoID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count summaries: %w", err)
	}

	var lim any
	if limit > 0 {
		lim = min(limit, MaxPageSize)
	}

	query := `
		SELECT ` + summaryColumns + `
		FROM summaries
		WHERE video_id = $1
		ORDER BY timestamp_seconds, frame_number
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, videoID, lim, max(skip, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get summaries: %w", err)
	}
	defer rows.Close()

	summaries := []*models.Summary{}
	for rows.Next() {
		var s models.Summary
		if err = scanSummary(rows, &s); err != nil {
			return nil, 0, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to get summaries: %w", err)
	}

	return summaries, total, nil
}

// SetSummaryEmbedding stores the text embedding of a summary
func (r *Repository) SetSummaryEmbedding(ctx context.Context, summaryID string, embedding []float32) (err error) {
	start := time.Now()
	defer func() { r.observe("set_embedding", start, err) }()

	_, err = r.db.Pool.Exec(ctx,
		`UPDATE summaries SET embedding = $2 WHERE id = $1`,
		summaryID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// SearchSummaries ranks a video's summaries by cosine similarity to a
// query embedding
func (r *Repository) SearchSummaries(ctx context.Context, videoID string, embedding []float32, limit int) (_ []*models.SummarySearchResult, err error) {
	start := time.Now()
	defer func() { r.observe("search_summaries", start, err) }()

	query := `
		SELECT ` + summaryColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM summaries
		WHERE video_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, pgvector.NewVector(embedding), videoID, ClampLimit(limit, 10))
	if err != nil {
		return nil, fmt.Errorf("failed to search summaries: %w", err)
	}
	defer rows.Close()

	results := []*models.SummarySearchResult{}
	for rows.Next() {
		var res models.SummarySearchResult
		if err = scanSummary(rows, &res.Summary, &res.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, &res)
	}

	return results, rows.Err()
}
