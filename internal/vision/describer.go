// Package vision turns frames into natural-language descriptions with a
// vision-language model.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/gpu"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
)

// ErrModelLoad is returned when the model cannot be made ready
var ErrModelLoad = errors.New("vision model load failed")

const (
	DefaultPrompt       = "Describe what's happening in this scene."
	DefaultMaxNewTokens = 100

	jpegQuality = 90
)

// GenerateRequest is a single-turn image+text prompt
type GenerateRequest struct {
	ModelID      string
	Device       gpu.Device
	Prompt       string
	Image        []byte // JPEG
	MaxNewTokens int
}

// Backend serves a vision-language model
type Backend interface {
	Load(ctx context.Context, modelID string, device gpu.Device) error
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// DeviceSelector chooses the compute placement for inference
type DeviceSelector interface {
	SelectDevice(preference string) (gpu.Device, error)
}

// DescriptionCache stores descriptions keyed by inference input
type DescriptionCache interface {
	GetDescription(ctx context.Context, key string) (string, bool, error)
	SetDescription(ctx context.Context, key, description string) error
}

// Options configures a Describer
type Options struct {
	ModelID      string
	Prompt       string
	MaxNewTokens int
	Device       string // auto, mps, cuda, cpu
	Cache        DescriptionCache
	Logger       *logging.Logger
}

// Describer is a loaded model plus its device placement. One instance is
// owned by the hosting process and shared by every pipeline run.
type Describer struct {
	backend  Backend
	selector DeviceSelector
	opts     Options
	logger   *logging.Logger

	loadOnce sync.Once
	loadErr  error
	device   gpu.Device

	// inference is not assumed to be safe for concurrent use
	mu sync.Mutex
}

// NewDescriber creates an unloaded describer
func NewDescriber(backend Backend, selector DeviceSelector, opts Options) *Describer {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.MaxNewTokens <= 0 {
		opts.MaxNewTokens = DefaultMaxNewTokens
	}
	if opts.Device == "" {
		opts.Device = "auto"
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Describer{
		backend:  backend,
		selector: selector,
		opts:     opts,
		logger:   logger.WithComponent("vision"),
	}
}

// Load selects the device and readies the model. It runs once; a failure
// is remembered and returned by every later call.
func (d *Describer) Load(ctx context.Context) error {
	d.loadOnce.Do(func() {
		device, err := d.selector.SelectDevice(d.opts.Device)
		if err != nil {
			d.loadErr = fmt.Errorf("%w: %v", ErrModelLoad, err)
			return
		}

		if err := d.backend.Load(ctx, d.opts.ModelID, device); err != nil {
			d.loadErr = fmt.Errorf("%w: %s: %v", ErrModelLoad, d.opts.ModelID, err)
			return
		}

		d.device = device
		d.logger.LogDeviceSelected(d.opts.ModelID, string(device), device.Precision())
	})
	return d.loadErr
}

// ModelID returns the served model
func (d *Describer) ModelID() string {
	return d.opts.ModelID
}

// Device returns the selected device, empty before a successful Load
func (d *Describer) Device() gpu.Device {
	return d.device
}

// Describe generates a description of img. An empty prompt uses the
// configured default.
func (d *Describer) Describe(ctx context.Context, img image.Image, prompt string) (string, error) {
	if err := d.Load(ctx); err != nil {
		return "", err
	}
	if prompt == "" {
		prompt = d.opts.Prompt
	}

	data, err := EncodeJPEG(img)
	if err != nil {
		return "", err
	}

	key := cache.DescriptionKey(d.opts.ModelID, prompt, data)
	if desc, ok := d.cached(ctx, key); ok {
		return desc, nil
	}

	d.mu.Lock()
	raw, err := d.backend.Generate(ctx, GenerateRequest{
		ModelID:      d.opts.ModelID,
		Device:       d.device,
		Prompt:       prompt,
		Image:        data,
		MaxNewTokens: d.opts.MaxNewTokens,
	})
	d.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	desc := CleanResponse(raw)

	if d.opts.Cache != nil {
		if err := d.opts.Cache.SetDescription(ctx, key, desc); err != nil {
			d.logger.WithError(err).Warn("Failed to cache description")
		}
	}
	return desc, nil
}

func (d *Describer) cached(ctx context.Context, key string) (string, bool) {
	if d.opts.Cache == nil {
		return "", false
	}

	desc, ok, err := d.opts.Cache.GetDescription(ctx, key)
	if err != nil {
		d.logger.WithError(err).Warn("Description cache lookup failed")
		return "", false
	}
	metrics.RecordCacheAccess("description", ok)
	return desc, ok
}

const assistantMarker = "Assistant:"

// CleanResponse strips echoed conversation scaffolding. Text after the
// last "Assistant:" marker is kept; without a marker the whole text is.
func CleanResponse(text string) string {
	if i := strings.LastIndex(text, assistantMarker); i >= 0 {
		text = text[i+len(assistantMarker):]
	}
	return strings.TrimSpace(text)
}

// EncodeJPEG serializes a frame for the model
func EncodeJPEG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
