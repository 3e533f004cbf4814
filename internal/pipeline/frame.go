package pipeline

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/timecode"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
)

// ErrFrameDescribe marks a failure confined to a single frame
var ErrFrameDescribe = errors.New("frame description failed")

const framePlaceholderPrefix = "Error processing frame: "

// FrameError is a per-frame describer failure
type FrameError struct {
	FrameNumber int
	Cause       error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v: frame %d: %v", ErrFrameDescribe, e.FrameNumber, e.Cause)
}

func (e *FrameError) Unwrap() []error {
	return []error{ErrFrameDescribe, e.Cause}
}

// FrameResult is the outcome of describing one sample
type FrameResult struct {
	Sample      sampler.FrameSample
	Description string
	Err         error
}

// Record converts the result into its persisted form. A failed frame
// keeps its slot with a placeholder description.
func (r FrameResult) Record() models.SummaryRecord {
	desc := r.Description
	if r.Err != nil {
		cause := r.Err
		var fe *FrameError
		if errors.As(r.Err, &fe) && fe.Cause != nil {
			cause = fe.Cause
		}
		desc = framePlaceholderPrefix + cause.Error()
	}

	return models.SummaryRecord{
		Timestamp:        timecode.Format(r.Sample.TimestampSeconds),
		TimestampSeconds: r.Sample.TimestampSeconds,
		Description:      desc,
		FrameNumber:      r.Sample.FrameNumber,
	}
}
