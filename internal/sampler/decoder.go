package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FrameReader yields raw bgr24 frames in decode order
type FrameReader interface {
	// ReadFrame returns the next frame or io.EOF once the stream ends.
	ReadFrame() ([]byte, error)
	Close() error
}

// Decoder opens a video for sequential raw-frame reads
type Decoder interface {
	Open(ctx context.Context, path string, width, height int) (FrameReader, error)
}

// FFmpegDecoder pipes rawvideo out of an ffmpeg process
type FFmpegDecoder struct {
	ffmpegPath string
}

// NewFFmpegDecoder creates a decoder that runs the given ffmpeg binary
func NewFFmpegDecoder(ffmpegPath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath}
}

func decodeArgs(path string) []string {
	return ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"format":   "rawvideo",
			"pix_fmt":  "bgr24",
			"loglevel": "error",
		}).
		GetArgs()
}

// Open starts ffmpeg and returns a reader over its stdout
func (d *FFmpegDecoder) Open(ctx context.Context, path string, width, height int) (FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, decodeArgs(path)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	r := &ffmpegReader{
		cmd:       cmd,
		stdout:    stdout,
		frameSize: width * height * 3,
	}
	cmd.Stderr = &r.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return r, nil
}

type ffmpegReader struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	frameSize int
	frames    int
	finished  bool
}

func (r *ffmpegReader) ReadFrame() ([]byte, error) {
	if r.finished {
		return nil, io.EOF
	}

	buf := make([]byte, r.frameSize)
	if _, err := io.ReadFull(r.stdout, buf); err != nil {
		r.finished = true
		waitErr := r.cmd.Wait()

		// A truncated tail ends the stream the same way a clean exit does.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if waitErr != nil && r.frames == 0 {
				return nil, fmt.Errorf("ffmpeg decode failed: %w, stderr: %s", waitErr, r.stderr.String())
			}
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	r.frames++
	return buf, nil
}

func (r *ffmpegReader) Close() error {
	if r.finished {
		return nil
	}
	r.finished = true

	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.stdout.Close()
	_ = r.cmd.Wait()
	return nil
}
