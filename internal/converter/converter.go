package converter

import (
	"context"
	"sync"

	"convertd/internal/config"
	"convertd/internal/formats"
	"convertd/internal/settings"
)

// Converter transforms input into target using the options in bundle.
type Converter interface {
	Convert(ctx context.Context, input []byte, target string, bundle settings.Bundle) ([]byte, error)
}

// Func adapts a function to the Converter interface.
type Func func(ctx context.Context, input []byte, target string, bundle settings.Bundle) ([]byte, error)

func (f Func) Convert(ctx context.Context, input []byte, target string, bundle settings.Bundle) ([]byte, error) {
	return f(ctx, input, target, bundle)
}

// Registry maps categories to converters.
type Registry struct {
	mu         sync.RWMutex
	converters map[formats.Category]Converter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{converters: make(map[formats.Category]Converter)}
}

// NewDefaultRegistry wires the built-in converters using the binaries named in cfg.
func NewDefaultRegistry(cfg *config.Config) *Registry {
	r := NewRegistry()
	img := NewImage()
	r.Register(formats.Image, img)
	r.Register(formats.Audio, NewMedia(formats.Audio, cfg.Converters.FFmpegBinary))
	r.Register(formats.Video, NewMedia(formats.Video, cfg.Converters.FFmpegBinary))
	r.Register(formats.Document, NewDocument(cfg.Converters.SofficeBinary, cfg.Converters.PdftoppmBinary, cfg.Converters.PDFDPI, img))
	return r
}

// Register installs conv for category, replacing any previous entry.
func (r *Registry) Register(category formats.Category, conv Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[category] = conv
}

// For returns the converter registered for category.
func (r *Registry) For(category formats.Category) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.converters[category]
	return conv, ok
}
