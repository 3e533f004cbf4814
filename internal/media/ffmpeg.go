package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/gpu"
)

var (
	// ErrProbe is returned when ffprobe cannot read the input
	ErrProbe = errors.New("probe failed")
	// ErrTranscode is returned when normalization fails
	ErrTranscode = errors.New("transcode failed")
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Path returns the ffmpeg binary in use
func (f *FFmpeg) Path() string {
	return f.ffmpegPath
}

// Metadata holds the raw ffprobe document
type Metadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`

	// Older muxers record orientation in tags, newer ones in the display matrix
	Tags         map[string]string `json:"tags"`
	SideDataList []SideData        `json:"side_data_list"`
}

// SideData holds the stream side data fields the pipeline reads
type SideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

// VideoInfo is the subset of probe data the pipeline relies on
type VideoInfo struct {
	Width      int
	Height     int
	Codec      string
	FPS        float64
	FrameCount int
	Duration   float64 // container duration in seconds
	HasVideo   bool

	// Rotation in degrees, normalized to [0, 360). Width and Height are
	// already swapped for 90 and 270 so they match autorotated output.
	Rotation int
}

// Probe extracts video information from a file
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*VideoInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffprobe %s: %v, stderr: %s", ErrProbe, inputPath, err, stderr.String())
	}

	return ParseProbeOutput(stdout.Bytes())
}

// ParseProbeOutput converts ffprobe JSON into VideoInfo
func ParseProbeOutput(data []byte) (*VideoInfo, error) {
	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ffprobe output: %v", ErrProbe, err)
	}

	info := &VideoInfo{}
	if d, err := strconv.ParseFloat(metadata.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	for _, stream := range metadata.Streams {
		if stream.CodecType != "video" {
			continue
		}

		info.HasVideo = true
		info.Width = stream.Width
		info.Height = stream.Height
		info.Codec = stream.CodecName
		info.Rotation = streamRotation(stream)
		if info.Rotation == 90 || info.Rotation == 270 {
			info.Width, info.Height = info.Height, info.Width
		}

		info.FPS = parseFrameRate(stream.AvgFrameRate)
		if info.FPS <= 0 {
			info.FPS = parseFrameRate(stream.FrameRate)
		}

		if n, err := strconv.Atoi(stream.NbFrames); err == nil && n > 0 {
			info.FrameCount = n
		} else if info.FPS > 0 {
			duration := info.Duration
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil && d > 0 {
				duration = d
			}
			info.FrameCount = int(math.Round(duration * info.FPS))
		}
		break
	}

	return info, nil
}

// streamRotation reads the display matrix rotation, falling back to the
// rotate tag. ffmpeg applies it when decoding unless -noautorotate is set.
func streamRotation(stream StreamInfo) int {
	var degrees float64
	found := false
	for _, sd := range stream.SideDataList {
		if sd.Rotation != 0 {
			degrees, found = sd.Rotation, true
			break
		}
	}
	if !found {
		if v, err := strconv.ParseFloat(stream.Tags["rotate"], 64); err == nil {
			degrees = v
		}
	}

	r := int(math.Round(degrees)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

// parseFrameRate parses ffprobe rationals such as "30000/1001"
func parseFrameRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}

	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// NormalizeOptions controls re-encoding to the pipeline's canonical format
type NormalizeOptions struct {
	InputPath  string
	OutputPath string
	VideoCodec string // h264_nvenc or libx264
	Preset     string
}

// Progress is one ffmpeg progress report
type Progress struct {
	Percent float64
	FPS     float64
	Speed   float64 // multiple of realtime
}

// ProgressCallback is called with progress updates
type ProgressCallback func(p Progress)

	args := []string{"-i", opts.InputPath, "-y"}
	args = append(args, gpu.EncoderArgs(codec, opts.Preset)...)
	args = append(args,
		// yuv420p needs even dimensions
		"-vf", evenDimensionsFilter,
		"-pix_fmt", "yuv420p",
		"-an",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-progress", "pipe:1",
		opts.OutputPath,
	)
	return args
}

// Normalize re-encodes a video to H.264 in an MP4 container with yuv420p
// pixels and no audio track.
func (f *FFmpeg) Normalize(ctx context.Context, opts NormalizeOptions, progressCB ProgressCallback) error {
	info, err := f.Probe(ctx, opts.InputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	if !info.HasVideo {
		return fmt.Errorf("%w: %s has no video stream", ErrTranscode, opts.InputPath)
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, buildNormalizeArgs(opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to create stdout pipe: %v", ErrTranscode, err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start ffmpeg: %v", ErrTranscode, err)
	}

	// stdout must be fully consumed before Wait closes the pipe.
	scanProgress(stdout, info.Duration, progressCB)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: ffmpeg: %v, stderr: %s", ErrTranscode, err, stderrBuf.String())
	}

	if progressCB != nil {
		progressCB(Progress{Percent: 100})
	}
	return nil
}

// scanProgress reads ffmpeg "-progress" key=value blocks, reporting once
// per block at its closing progress= line. out_time_ms is reported in
// microseconds despite its name.
func scanProgress(r io.Reader, totalDuration float64, progressCB ProgressCallback) {
	if totalDuration <= 0 || progressCB == nil {
		io.Copy(io.Discard, r)
		return
	}

	var current Progress
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}

		switch key {
		case "fps":
			current.FPS, _ = strconv.ParseFloat(value, 64)
		case "speed":
			current.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
		case "out_time_ms":
			if timeUs, err := strconv.ParseFloat(value, 64); err == nil {
				current.Percent = math.Min((timeUs/1000000.0/totalDuration)*100, 100)
			}
		case "progress":
			progressCB(current)
		}
	}
}
