package models

import (
	"time"
)

// Video represents one frame-description job over a single source video
type Video struct {
	ID            string     `json:"id" db:"id"`
	VideoURL      string     `json:"video_url" db:"video_url"`
	Title         *string    `json:"title,omitempty" db:"title"`
	Duration      string     `json:"duration" db:"duration"`
	Status        string     `json:"status" db:"status"`
	Mode          string     `json:"mode" db:"mode"`
	KeyTopics     string     `json:"key_topics" db:"key_topics"`
	FrameInterval int        `json:"frame_interval" db:"frame_interval"`
	TotalFrames   int        `json:"total_frames" db:"total_frames"`
	ErrorMsg      string     `json:"error_msg,omitempty" db:"error_msg"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	Summaries     []*Summary `json:"summaries,omitempty" db:"-"`
}

// Complete records the values a finished pipeline run produces.
func (v *Video) Complete(totalFrames int, keyTopics string) {
	v.Status = VideoStatusCompleted
	v.TotalFrames = totalFrames
	v.KeyTopics = keyTopics
	v.ErrorMsg = ""
}

// Fail marks the video as failed with a reason
func (v *Video) Fail(err error) {
	v.Status = VideoStatusFailed
	if err != nil {
		v.ErrorMsg = err.Error()
	}
}

// VideoStatus constants
const (
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// Processing modes
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)
