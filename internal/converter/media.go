package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"convertd/internal/formats"
	"convertd/internal/settings"
)

// Media transcodes audio or video through ffmpeg.
type Media struct {
	category formats.Category
	ffmpeg   string
}

// NewMedia returns an ffmpeg-backed converter for the audio or video category.
func NewMedia(category formats.Category, ffmpegBinary string) *Media {
	return &Media{category: category, ffmpeg: ffmpegBinary}
}

func (c *Media) Convert(ctx context.Context, input []byte, target string, bundle settings.Bundle) ([]byte, error) {
	target = formats.NormalizeExtension(target)
	if got := formats.CategoryForTarget(target); got != formats.Audio && got != formats.Video {
		return nil, unsupported(c.category, target)
	}
	if err := contextError(ctx, c.category, target); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "convertd-media-")
	if err != nil {
		return nil, newError(KindBackend, c.category, target, "create work directory", err)
	}
	defer os.RemoveAll(workDir)

	source, err := writeSource(workDir, input)
	if err != nil {
		return nil, newError(KindBackend, c.category, target, "stage source", err)
	}
	dest := filepath.Join(workDir, "output."+target)

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", source}
	args = append(args, c.encoderArgs(target, bundle)...)
	args = append(args, dest)

	if err := runTool(ctx, c.ffmpeg, args...); err != nil {
		if cerr := contextError(ctx, c.category, target); cerr != nil {
			return nil, cerr
		}
		return nil, newError(KindBackend, c.category, target, "ffmpeg failed", err)
	}
	out, err := os.ReadFile(dest)
	if err != nil {
		return nil, newError(KindEncode, c.category, target, "read ffmpeg output", err)
	}
	return out, nil
}

func (c *Media) encoderArgs(target string, bundle settings.Bundle) []string {
	var args []string
	audioOnly := formats.CategoryForTarget(target) == formats.Audio
	if audioOnly {
		args = append(args, "-vn")
	}
	switch opts := bundle.(type) {
	case settings.Audio:
		if opts.Codec != "" {
			args = append(args, "-c:a", opts.Codec)
		}
		if opts.Bitrate != "" {
			args = append(args, "-b:a", opts.Bitrate)
		}
		if opts.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
		}
		if opts.Channels > 0 {
			args = append(args, "-ac", strconv.Itoa(opts.Channels))
		}
		if opts.Quality != nil {
			args = append(args, "-q:a", strconv.Itoa(*opts.Quality))
		}
		if opts.StripMetadata {
			args = append(args, "-map_metadata", "-1")
		}
	case settings.Video:
		if opts.Codec != "" {
			args = append(args, "-c:v", opts.Codec)
		}
		args = append(args, "-crf", strconv.Itoa(opts.CRF), "-preset", opts.Preset)
		if opts.Profile != "" {
			args = append(args, "-profile:v", opts.Profile)
		}
		if opts.FPS > 0 {
			args = append(args, "-r", strconv.Itoa(opts.FPS))
		}
		if opts.Bitrate != "" {
			args = append(args, "-b:v", opts.Bitrate)
		}
		if opts.StripMetadata {
			args = append(args, "-map_metadata", "-1")
		}
	}
	return args
}

func writeSource(dir string, input []byte) (string, error) {
	path := filepath.Join(dir, "source"+sniffExtension(input))
	if err := os.WriteFile(path, input, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
