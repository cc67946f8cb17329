package settings

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"convertd/internal/formats"
	"convertd/internal/services"
)

const (
	defaultCRF    = 23
	defaultPreset = "fast"
	defaultDPI    = 200
)

var (
	codecPattern   = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)
	bitratePattern = regexp.MustCompile(`^[0-9]{1,6}[kKmM]?$`)
)

// Options is the flat union of every option a client may send. Nil pointers
// mean the client left the option unset.
type Options struct {
	Quality        *int
	Optimize       bool
	RemoveMetadata bool
	Codec          string
	Bitrate        string
	SampleRate     *int
	Channels       *int
	CRF            *int
	Preset         string
	Profile        string
	FPS            *int
	DPI            *int
}

// ValidationError lists the fields of a resolved bundle that failed validation.
type ValidationError struct {
	Category formats.Category
	Fields   map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return fmt.Sprintf("invalid %s settings: %s", e.Category, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return services.ErrValidation }

// Resolver validates bundles. The zero value is not usable; call NewResolver.
type Resolver struct {
	validate *validator.Validate
}

// NewResolver builds a Resolver with the codec and bitrate rules registered.
func NewResolver() *Resolver {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("codec", func(fl validator.FieldLevel) bool {
		return codecPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("bitrate", func(fl validator.FieldLevel) bool {
		return bitratePattern.MatchString(fl.Field().String())
	})
	return &Resolver{validate: v}
}

var defaultResolver = NewResolver()

// Resolve is Resolver.Resolve on a shared resolver.
func Resolve(target string, opts Options) (Bundle, error) {
	return defaultResolver.Resolve(target, opts)
}

// Resolve builds the bundle for target's category from opts. Options that do
// not belong to that category are dropped.
func (r *Resolver) Resolve(target string, opts Options) (Bundle, error) {
	var b Bundle
	switch category := formats.CategoryForTarget(target); category {
	case formats.Audio:
		b = Audio{
			Codec:         strings.ToLower(strings.TrimSpace(opts.Codec)),
			Bitrate:       strings.TrimSpace(opts.Bitrate),
			SampleRate:    deref(opts.SampleRate, 0),
			Channels:      deref(opts.Channels, 0),
			Quality:       opts.Quality,
			StripMetadata: opts.RemoveMetadata,
		}
	case formats.Video:
		preset := strings.ToLower(strings.TrimSpace(opts.Preset))
		if preset == "" {
			preset = defaultPreset
		}
		b = Video{
			Codec:         strings.ToLower(strings.TrimSpace(opts.Codec)),
			CRF:           deref(opts.CRF, defaultCRF),
			Preset:        preset,
			Profile:       strings.ToLower(strings.TrimSpace(opts.Profile)),
			FPS:           deref(opts.FPS, 0),
			Bitrate:       strings.TrimSpace(opts.Bitrate),
			StripMetadata: opts.RemoveMetadata,
		}
	case formats.Document:
		b = Document{
			DPI:     deref(opts.DPI, defaultDPI),
			Quality: deref(opts.Quality, 0),
		}
	default:
		b = Image{
			Quality:       deref(opts.Quality, 0),
			Optimize:      opts.Optimize,
			StripMetadata: opts.RemoveMetadata,
		}
	}
	if err := r.Validate(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks a bundle against its variant's rules.
func (r *Resolver) Validate(b Bundle) error {
	if b == nil {
		return &ValidationError{Fields: map[string]string{"settings": "missing"}}
	}
	err := r.validate.Struct(b)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s settings: %w", b.Category(), err)
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "gte", "lte":
			fields[e.Field()] = "out of allowed range"
		case "oneof":
			fields[e.Field()] = "must be one of " + e.Param()
		default:
			fields[e.Field()] = "invalid value"
		}
	}
	return &ValidationError{Category: b.Category(), Fields: fields}
}

func deref(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}
