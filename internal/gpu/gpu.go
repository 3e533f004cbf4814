// Package gpu detects the accelerators available to the vision model and
// the video encoder.
package gpu

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Device is a compute placement for model inference
type Device string

const (
	DeviceMPS  Device = "mps"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Precision returns the numeric precision used on the device. GPU-class
// devices run half precision, the CPU runs full precision.
func (d Device) Precision() string {
	if d == DeviceCPU {
		return "float32"
	}
	return "float16"
}

// Capability represents detected accelerator capabilities
type Capability struct {
	CUDAAvailable  bool
	MetalAvailable bool
	NVENCSupported bool
	DeviceCount    int
	DeviceNames    []string
	MemoryTotal    []int64 // MB per device
	MemoryFree     []int64 // MB per device
	DriverVersion  string
	LastChecked    time.Time
}

// Runner executes an external command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Manager caches accelerator detection results
type Manager struct {
	capability *Capability
	mu         sync.RWMutex
	ffmpegPath string
	run        Runner
	goos       string
	goarch     string
}

// Option customizes a Manager
type Option func(*Manager)

// WithRunner replaces the command runner used for probing
func WithRunner(r Runner) Option {
	return func(m *Manager) { m.run = r }
}

// WithPlatform overrides the detected operating system and architecture
func WithPlatform(goos, goarch string) Option {
	return func(m *Manager) {
		m.goos = goos
		m.goarch = goarch
	}
}

// NewManager creates a manager and runs detection once
func NewManager(ffmpegPath string, opts ...Option) *Manager {
	m := &Manager{
		ffmpegPath: ffmpegPath,
		capability: &Capability{},
		run:        execRunner,
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.detect()
	return m
}

func (m *Manager) detect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := &Capability{
		LastChecked: time.Now(),
		// Apple silicon always exposes Metal.
		MetalAvailable: m.goos == "darwin" && m.goarch == "arm64",
	}

	if err := m.checkNVIDIASMI(ctx, c); err == nil {
		c.CUDAAvailable = c.DeviceCount > 0
	}

	if err := m.checkFFmpegNVENC(ctx); err == nil {
		c.NVENCSupported = c.CUDAAvailable
	}

	m.mu.Lock()
	m.capability = c
	m.mu.Unlock()
}

func (m *Manager) checkNVIDIASMI(ctx context.Context, c *Capability) error {
	out, err := m.run(ctx, "nvidia-smi", "--query-gpu=name,memory.total,memory.free,driver_version", "--format=csv,noheader")
	if err != nil {
		return fmt.Errorf("nvidia-smi not available: %w", err)
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			continue
		}

		c.DeviceNames = append(c.DeviceNames, strings.TrimSpace(parts[0]))

		memTotal := strings.TrimSpace(strings.ReplaceAll(parts[1], " MiB", ""))
		if mt, err := strconv.ParseInt(memTotal, 10, 64); err == nil {
			c.MemoryTotal = append(c.MemoryTotal, mt)
		}

		memFree := strings.TrimSpace(strings.ReplaceAll(parts[2], " MiB", ""))
		if mf, err := strconv.ParseInt(memFree, 10, 64); err == nil {
			c.MemoryFree = append(c.MemoryFree, mf)
		}

		if c.DriverVersion == "" {
			c.DriverVersion = strings.TrimSpace(parts[3])
		}
	}
	c.DeviceCount = len(c.DeviceNames)

	return nil
}

func (m *Manager) checkFFmpegNVENC(ctx context.Context) error {
	out, err := m.run(ctx, m.ffmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return fmt.Errorf("failed to check ffmpeg encoders: %w", err)
	}

	if !strings.Contains(string(out), "h264_nvenc") {
		return fmt.Errorf("NVENC encoders not found in FFmpeg")
	}
	return nil
}

// GetCapability returns a copy of the current capability
func (m *Manager) GetCapability() *Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := *m.capability
	return &c
}

// NVENCAvailable reports whether hardware H.264 encoding can be used
func (m *Manager) NVENCAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.capability.CUDAAvailable && m.capability.NVENCSupported
}

// SelectDevice picks the inference device. "auto" prefers Metal, then
// CUDA, then the CPU; any other known value is honored as-is.
func (m *Manager) SelectDevice(preference string) (Device, error) {
	switch Device(preference) {
	case DeviceMPS, DeviceCUDA, DeviceCPU:
		return Device(preference), nil
	case "", "auto":
	default:
		return "", fmt.Errorf("unknown device %q", preference)
	}

	c := m.GetCapability()
	switch {
	case c.MetalAvailable:
		return DeviceMPS, nil
	case c.CUDAAvailable:
		return DeviceCUDA, nil
	default:
		return DeviceCPU, nil
	}
}

// VideoEncoder returns the H.264 encoder to use
func (m *Manager) VideoEncoder(useGPU bool) string {
	if useGPU && m.NVENCAvailable() {
		return "h264_nvenc"
	}
	return "libx264"
}

// EncoderArgs builds ffmpeg arguments for the given H.264 encoder
func EncoderArgs(codec, preset string) []string {
	if codec == "h264_nvenc" {
		return []string{
			"-c:v", "h264_nvenc",
			"-preset", mapPresetToNVENC(preset),
			"-rc", "vbr",
			"-cq", "23",
			"-b:v", "0",
			"-profile:v", "high",
		}
	}

	if preset == "" {
		preset = "veryfast"
	}
	return []string{"-c:v", "libx264", "-preset", preset, "-crf", "23"}
}

func mapPresetToNVENC(preset string) string {
	mapping := map[string]string{
		"ultrafast": "p1",
		"superfast": "p2",
		"veryfast":  "p3",
		"faster":    "p4",
		"fast":      "p5",
		"medium":    "p6",
		"slow":      "p6",
		"slower":    "p7",
		"veryslow":  "p7",
	}

	if nvencPreset, ok := mapping[preset]; ok {
		return nvencPreset
	}
	return "p6"
}
