package summarizer

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

// GetVideo returns a video with every summary in timestamp order.
// Finished videos are served from the cache when one is configured.
func (s *Service) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	if s.cache != nil {
		cached, err := s.cache.GetVideo(ctx, id)
		if err != nil {
			s.logger.WithVideoID(id).WithError(err).Warn("Video cache lookup failed")
		}
		metrics.RecordCacheAccess("video", cached != nil)
		if cached != nil {
			return cached, nil
		}
	}

	video, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}

	summaries, _, err := s.repo.GetSummaries(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}
	video.Summaries = summaries

	if s.cache != nil && video.Status != models.VideoStatusProcessing {
		if err := s.cache.SetVideo(ctx, video); err != nil {
			s.logger.WithVideoID(id).WithError(err).Warn("Failed to cache video")
		}
	}

	return video, nil
}

// ListVideos returns a page of videos, newest first, and the total count
func (s *Service) ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, int, error) {
	return s.repo.ListVideos(ctx, limit, offset)
}

// GetSummaries returns a page of a video's summaries and the total count
func (s *Service) GetSummaries(ctx context.Context, videoID string, skip, limit int) ([]*models.Summary, int, error) {
	if _, err := s.repo.GetVideo(ctx, videoID); err != nil {
		return nil, 0, err
	}
	return s.repo.GetSummaries(ctx, videoID, skip, limit)
}

// SearchSummaries ranks a video's summaries by similarity to query
func (s *Service) SearchSummaries(ctx context.Context, videoID, query string, limit int) ([]*models.SummarySearchResult, error) {
	if s.embedder == nil {
		return nil, ErrSearchDisabled
	}
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	if _, err := s.repo.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.repo.SearchSummaries(ctx, videoID, vec, limit)
}
