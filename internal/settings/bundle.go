package settings

import (
	"encoding/json"
	"fmt"

	"convertd/internal/formats"
)

// Bundle is the typed set of options handed to a converter.
type Bundle interface {
	Category() formats.Category
	bundle()
}

// Image holds raster re-encoding options. Quality 0 selects the converter default.
type Image struct {
	Quality       int  `json:"quality,omitempty" validate:"omitempty,gte=1,lte=100"`
	Optimize      bool `json:"optimize,omitempty"`
	StripMetadata bool `json:"strip_metadata,omitempty"`
}

// Audio holds ffmpeg audio encoder options. Quality is the encoder's VBR scale.
type Audio struct {
	Codec         string `json:"codec,omitempty" validate:"omitempty,codec"`
	Bitrate       string `json:"bitrate,omitempty" validate:"omitempty,bitrate"`
	SampleRate    int    `json:"sample_rate,omitempty" validate:"omitempty,gte=8000,lte=192000"`
	Channels      int    `json:"channels,omitempty" validate:"omitempty,gte=1,lte=8"`
	Quality       *int   `json:"quality,omitempty" validate:"omitempty,gte=0,lte=10"`
	StripMetadata bool   `json:"strip_metadata,omitempty"`
}

// Video holds ffmpeg video encoder options.
type Video struct {
	Codec         string `json:"codec,omitempty" validate:"omitempty,codec"`
	CRF           int    `json:"crf" validate:"gte=0,lte=51"`
	Preset        string `json:"preset" validate:"oneof=ultrafast superfast veryfast faster fast medium slow slower veryslow"`
	Profile       string `json:"profile,omitempty" validate:"omitempty,oneof=baseline main high high10 high422 high444"`
	FPS           int    `json:"fps,omitempty" validate:"omitempty,gte=1,lte=120"`
	Bitrate       string `json:"bitrate,omitempty" validate:"omitempty,bitrate"`
	StripMetadata bool   `json:"strip_metadata,omitempty"`
}

// Document holds office and PDF rendering options. DPI and Quality only apply
// when a PDF is rasterized.
type Document struct {
	DPI     int `json:"dpi" validate:"gte=72,lte=600"`
	Quality int `json:"quality,omitempty" validate:"omitempty,gte=1,lte=100"`
}

func (Image) Category() formats.Category    { return formats.Image }
func (Audio) Category() formats.Category    { return formats.Audio }
func (Video) Category() formats.Category    { return formats.Video }
func (Document) Category() formats.Category { return formats.Document }

func (Image) bundle()    {}
func (Audio) bundle()    {}
func (Video) bundle()    {}
func (Document) bundle() {}

type envelope struct {
	Category formats.Category `json:"category"`
	Settings json.RawMessage  `json:"settings"`
}

// Marshal encodes b with its category tag so it can cross the broker.
func Marshal(b Bundle) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("marshal settings: nil bundle")
	}
	body, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return json.Marshal(envelope{Category: b.Category(), Settings: body})
}

// Unmarshal decodes a tagged bundle produced by Marshal.
func Unmarshal(data []byte) (Bundle, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	var (
		b   Bundle
		err error
	)
	switch env.Category {
	case formats.Image:
		var v Image
		err = json.Unmarshal(env.Settings, &v)
		b = v
	case formats.Audio:
		var v Audio
		err = json.Unmarshal(env.Settings, &v)
		b = v
	case formats.Video:
		var v Video
		err = json.Unmarshal(env.Settings, &v)
		b = v
	case formats.Document:
		var v Document
		err = json.Unmarshal(env.Settings, &v)
		b = v
	default:
		return nil, fmt.Errorf("unmarshal settings: unknown category %q", env.Category)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s settings: %w", env.Category, err)
	}
	return b, nil
}
