// Package sampler extracts frames from a video at a fixed wall-clock
// interval.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/media"
)

// ErrSourceUnreadable is returned when a video cannot be opened for decoding
var ErrSourceUnreadable = errors.New("video source unreadable")

// FrameSample is one emitted frame
type FrameSample struct {
	Image            image.Image
	TimestampSeconds float64
	// FrameNumber counts emitted samples from 0, not raw video frames.
	FrameNumber int
}

// Prober reads container metadata
type Prober interface {
	Probe(ctx context.Context, path string) (*media.VideoInfo, error)
}

// Sampler turns a video file into a sequence of FrameSamples
type Sampler struct {
	prober  Prober
	decoder Decoder
}

// New creates a sampler
func New(prober Prober, decoder Decoder) *Sampler {
	return &Sampler{prober: prober, decoder: decoder}
}

// Probe returns metadata for a decodable video stream
func (s *Sampler) Probe(ctx context.Context, path string) (*media.VideoInfo, error) {
	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if !info.HasVideo {
		return nil, fmt.Errorf("%w: %s has no video stream", ErrSourceUnreadable, path)
	}
	if info.FPS <= 0 {
		return nil, fmt.Errorf("%w: %s reports no frame rate", ErrSourceUnreadable, path)
	}
	return info, nil
}

// Duration returns frameCount / fps, or 0 when the frame rate is unknown
func (s *Sampler) Duration(ctx context.Context, path string) (float64, error) {
	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	return DurationOf(info), nil
}

// DurationOf returns frameCount / fps, or 0 when the frame rate is unknown
func DurationOf(info *media.VideoInfo) float64 {
	if info == nil || info.FPS <= 0 {
		return 0
	}
	return float64(info.FrameCount) / info.FPS
}

// FrameInterval converts a sampling interval in seconds to a raw-frame stride
func FrameInterval(fps float64, intervalSeconds int) int {
	n := int(math.Round(fps * float64(intervalSeconds)))
	if n < 1 {
		return 1
	}
	return n
}

// Sample opens the video and returns a stream of frames taken every
// intervalSeconds. The first decoded frame is always emitted.
func (s *Sampler) Sample(ctx context.Context, path string, intervalSeconds int) (*Stream, error) {
	if intervalSeconds < 1 {
		return nil, fmt.Errorf("interval must be at least one second, got %d", intervalSeconds)
	}

	info, err := s.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	reader, err := s.decoder.Open(ctx, path, info.Width, info.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	return &Stream{
		reader:        reader,
		width:         info.Width,
		height:        info.Height,
		fps:           info.FPS,
		frameInterval: FrameInterval(info.FPS, intervalSeconds),
	}, nil
}

// Stream is a single forward pass over a video's sampled frames
type Stream struct {
	reader        FrameReader
	width         int
	height        int
	fps           float64
	frameInterval int
	counter       int
	emitted       int
	closed        bool
}

// FrameInterval returns the raw-frame stride in use
func (st *Stream) FrameInterval() int {
	return st.frameInterval
}

// FPS returns the source frame rate
func (st *Stream) FPS() float64 {
	return st.fps
}

// Next returns the next sample, or io.EOF when the video is exhausted
func (st *Stream) Next() (FrameSample, error) {
	if st.closed {
		return FrameSample{}, io.EOF
	}

	for {
		buf, err := st.reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			st.Close()
			return FrameSample{}, io.EOF
		}
		if err != nil {
			st.Close()
			if st.counter == 0 {
				return FrameSample{}, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
			}
			return FrameSample{}, err
		}

		idx := st.counter
		st.counter++
		if idx%st.frameInterval != 0 {
			continue
		}

		sample := FrameSample{
			Image:            BGRToRGBA(buf, st.width, st.height),
			TimestampSeconds: float64(idx) / st.fps,
			FrameNumber:      st.emitted,
		}
		st.emitted++
		return sample, nil
	}
}

// Drain reads every remaining sample and closes the stream
func (st *Stream) Drain() ([]FrameSample, error) {
	defer st.Close()

	var samples []FrameSample
	for {
		sample, err := st.Next()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
		samples = append(samples, sample)
	}
}

// Close stops the decoder. It is safe to call more than once.
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	return st.reader.Close()
}
