package container

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"

	"github.com/tiroq/scenerec/pkg/frame"
)

type Codec string

const (
	CodecMJPEG Codec = "mjpeg"
)

type QualityPreset string

const (
	QualityAuto   QualityPreset = "auto"
	QualityLow    QualityPreset = "low"
	QualityMedium QualityPreset = "medium"
	QualityHigh   QualityPreset = "high"
	QualityUltra  QualityPreset = "ultra"
)

var (
	ErrInvalidCodec   = errors.New("invalid codec")
	ErrInvalidQuality = errors.New("invalid quality preset")
)

type EncoderConfig struct {
	Codec   Codec
	Quality QualityPreset
	Size    frame.Dimensions
}

func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Codec:   CodecMJPEG,
		Quality: QualityAuto,
	}
}

// Encoder turns one frame into one compressed sample. Frames whose bounds
// differ from the configured size are scaled to it.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	Name() string
}

type encoderFactory func(cfg EncoderConfig) (Encoder, error)

var (
	encoderFactoriesMu sync.Mutex
	encoderFactories   = map[Codec]encoderFactory{
		CodecMJPEG: newJPEGEncoder,
	}
)

// RegisterEncoder makes a codec available to NewEncoder.
func RegisterEncoder(codec Codec, factory func(cfg EncoderConfig) (Encoder, error)) {
	encoderFactoriesMu.Lock()
	defer encoderFactoriesMu.Unlock()
	encoderFactories[codec] = factory
}

// NewEncoder creates an encoder for cfg after filling defaults.
func NewEncoder(cfg EncoderConfig) (Encoder, error) {
	cfg = applyEncoderDefaults(cfg)
	if err := validateEncoderConfig(cfg); err != nil {
		return nil, err
	}
	encoderFactoriesMu.Lock()
	factory := encoderFactories[cfg.Codec]
	encoderFactoriesMu.Unlock()
	return factory(cfg)
}

func (c Codec) valid() bool {
	encoderFactoriesMu.Lock()
	defer encoderFactoriesMu.Unlock()
	_, ok := encoderFactories[c]
	return ok
}

// Valid reports whether q is a known preset.
func (q QualityPreset) Valid() bool {
	switch q {
	case QualityAuto, QualityLow, QualityMedium, QualityHigh, QualityUltra:
		return true
	default:
		return false
	}
}

// jpegQuality maps a preset to a libjpeg-style quality factor.
func (q QualityPreset) jpegQuality() int {
	switch q {
	case QualityLow:
		return 50
	case QualityMedium:
		return 70
	case QualityHigh:
		return 85
	case QualityUltra:
		return 95
	default:
		return 80
	}
}

func applyEncoderDefaults(cfg EncoderConfig) EncoderConfig {
	defaults := DefaultEncoderConfig()
	if cfg.Codec == "" {
		cfg.Codec = defaults.Codec
	}
	if cfg.Quality == "" {
		cfg.Quality = defaults.Quality
	}
	return cfg
}

func validateEncoderConfig(cfg EncoderConfig) error {
	cfg = applyEncoderDefaults(cfg)
	if !cfg.Codec.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidCodec, cfg.Codec)
	}
	if !cfg.Quality.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidQuality, cfg.Quality)
	}
	if !cfg.Size.Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, cfg.Size.Width, cfg.Size.Height)
	}
	return nil
}

type jpegEncoder struct {
	opts    jpeg.Options
	size    frame.Dimensions
	scratch *image.RGBA
	buf     bytes.Buffer
}

func newJPEGEncoder(cfg EncoderConfig) (Encoder, error) {
	return &jpegEncoder{
		opts: jpeg.Options{Quality: cfg.Quality.jpegQuality()},
		size: cfg.Size,
	}, nil
}

func (e *jpegEncoder) Name() string { return "jpeg" }

func (e *jpegEncoder) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil frame")
	}
	b := img.Bounds()
	if b.Dx() != e.size.Width || b.Dy() != e.size.Height {
		if e.scratch == nil {
			e.scratch = image.NewRGBA(image.Rect(0, 0, e.size.Width, e.size.Height))
		}
		draw.BiLinear.Scale(e.scratch, e.scratch.Bounds(), img, b, draw.Src, nil)
		img = e.scratch
	}
	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, img, &e.opts); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}
