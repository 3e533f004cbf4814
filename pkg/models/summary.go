package models

import "time"

// SummaryRecord is the description of one sampled frame
type SummaryRecord struct {
	Timestamp        string  `json:"timestamp"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
	Description      string  `json:"description"`
	FrameNumber      int     `json:"frame_number"`
}

// Summary is a SummaryRecord as stored for a video
type Summary struct {
	ID      string `json:"id" db:"id"`
	VideoID string `json:"video_id" db:"video_id"`
	SummaryRecord
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SummarySearchResult is a stored summary ranked against a text query
type SummarySearchResult struct {
	Summary
	Similarity float64 `json:"similarity"`
}
