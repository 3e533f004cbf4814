package models

import (
	"fmt"
	"time"
)

// RemoteJob is the message handed to a GPU worker
type RemoteJob struct {
	ID            string    `json:"id"`
	VideoID       string    `json:"video_id"`
	Bucket        string    `json:"bucket"`
	ObjectKey     string    `json:"object_key"`
	FrameInterval int       `json:"frame_interval"`
	BatchSize     int       `json:"batch_size"`
	ModelID       string    `json:"model_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the fields a worker cannot run without
func (j *RemoteJob) Validate() error {
	if j.VideoID == "" {
		return fmt.Errorf("remote job %s has no video id", j.ID)
	}
	if j.Bucket == "" || j.ObjectKey == "" {
		return fmt.Errorf("remote job %s has no source object", j.ID)
	}
	return nil
}

// DefaultBatchSize is the number of frames grouped per remote batch
const DefaultBatchSize = 8
