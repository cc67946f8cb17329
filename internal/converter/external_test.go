package converter_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"convertd/internal/config"
	"convertd/internal/converter"
	"convertd/internal/formats"
	"convertd/internal/services"
	"convertd/internal/settings"
	"convertd/internal/testsupport"
)

// copyStub copies the value following inFlag to the last argument and records
// the argument list in argsFile.
func copyStub(argsFile, inFlag string) string {
	return `#!/bin/sh
echo "$@" > "` + argsFile + `"
prev=""; src=""; last=""
for a in "$@"; do
  if [ "$prev" = "` + inFlag + `" ]; then src="$a"; fi
  prev="$a"; last="$a"
done
cp "$src" "$last"
`
}

func readArgs(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func intPtr(v int) *int { return &v }

func TestMediaPassesAudioSettingsToFFmpeg(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	testsupport.NewConfig(t, testsupport.WithStubScript("ffmpeg-stub", copyStub(argsFile, "-i")))

	quality := 4
	conv := converter.NewMedia(formats.Video, "ffmpeg-stub")
	out, err := conv.Convert(context.Background(), []byte("fake media payload"), "mp3", settings.Audio{
		Codec: "libmp3lame", Bitrate: "192k", SampleRate: 44100, Channels: 2, Quality: &quality, StripMetadata: true,
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if string(out) != "fake media payload" {
		t.Fatalf("unexpected output %q", out)
	}
	args := readArgs(t, argsFile)
	for _, want := range []string{"-vn", "-c:a libmp3lame", "-b:a 192k", "-ar 44100", "-ac 2", "-q:a 4", "-map_metadata -1"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in ffmpeg args %q", want, args)
		}
	}
	if !strings.HasSuffix(args, "output.mp3") {
		t.Fatalf("expected output path last, got %q", args)
	}
}

func TestMediaPassesVideoSettingsToFFmpeg(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	testsupport.NewConfig(t, testsupport.WithStubScript("ffmpeg-stub", copyStub(argsFile, "-i")))

	conv := converter.NewMedia(formats.Video, "ffmpeg-stub")
	if _, err := conv.Convert(context.Background(), []byte("movie"), "webm", settings.Video{
		Codec: "libvpx_vp9", CRF: 30, Preset: "slow", FPS: 24,
	}); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	args := readArgs(t, argsFile)
	for _, want := range []string{"-c:v libvpx_vp9", "-crf 30", "-preset slow", "-r 24"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in ffmpeg args %q", want, args)
		}
	}
	if strings.Contains(args, "-vn") || strings.Contains(args, "-map_metadata") {
		t.Fatalf("unexpected audio-only or metadata flags in %q", args)
	}
}

func TestMediaReportsBackendFailure(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubScript("ffmpeg-broken", "#!/bin/sh\necho 'Invalid data found when processing input' >&2\nexit 1\n"))

	conv := converter.NewMedia(formats.Audio, "ffmpeg-broken")
	_, err := conv.Convert(context.Background(), []byte("junk"), "wav", settings.Audio{})
	cerr, ok := converter.AsError(err)
	if !ok || cerr.Kind != converter.KindBackend {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected tool output in error, got %q", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
}

func TestMediaHonoursDeadline(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubScript("ffmpeg-slow", "#!/bin/sh\nexec sleep 5\n"))

	conv := converter.NewMedia(formats.Audio, "ffmpeg-slow")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conv.Convert(ctx, []byte("junk"), "wav", settings.Audio{})
	if cerr, ok := converter.AsError(err); !ok || cerr.Kind != converter.KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("conversion was not interrupted, took %s", time.Since(start))
	}
}

func TestMediaRejectsImageTarget(t *testing.T) {
	conv := converter.NewMedia(formats.Audio, "ffmpeg")
	_, err := conv.Convert(context.Background(), []byte("x"), "png", settings.Image{})
	if cerr, ok := converter.AsError(err); !ok || cerr.Kind != converter.KindUnsupportedTarget {
		t.Fatalf("expected unsupported target, got %v", err)
	}
}

func TestDocumentUsesSofficeForOfficeTargets(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	stub := `#!/bin/sh
echo "$@" > "` + argsFile + `"
prev=""; out=""; src=""
for a in "$@"; do
  if [ "$prev" = "--outdir" ]; then out="$a"; fi
  prev="$a"; src="$a"
done
base=$(basename "$src"); stem="${base%.*}"
cp "$src" "$out/$stem.pdf"
`
	testsupport.NewConfig(t, testsupport.WithStubScript("soffice-stub", stub))

	conv := converter.NewDocument("soffice-stub", "pdftoppm-missing", 0, converter.NewImage())
	out, err := conv.Convert(context.Background(), []byte("hello world\n"), "pdf", settings.Document{DPI: 200})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if string(out) != "hello world\n" {
		t.Fatalf("unexpected output %q", out)
	}
	args := readArgs(t, argsFile)
	for _, want := range []string{"--headless", "--convert-to pdf", "-env:UserInstallation=file://"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in soffice args %q", want, args)
		}
	}
}

func installRasterStub(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "page.png")
	if err := os.WriteFile(fixture, testsupport.PNGBytes(t, 10, 10), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	argsFile := filepath.Join(dir, "args")
	stub := `#!/bin/sh
echo "$@" > "` + argsFile + `"
for a in "$@"; do last="$a"; done
cp "` + fixture + `" "$last.png"
`
	testsupport.NewConfig(t, testsupport.WithStubScript("pdftoppm-stub", stub))
	return argsFile
}

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func TestDocumentRasterizesPDFPages(t *testing.T) {
	argsFile := installRasterStub(t)
	conv := converter.NewDocument("soffice-missing", "pdftoppm-stub", 300, converter.NewImage())

	cases := []struct {
		target string
		magic  func([]byte) bool
	}{
		{"webp", func(b []byte) bool { return len(b) >= 12 && string(b[8:12]) == "WEBP" }},
		{"jpg", func(b []byte) bool { return len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF }},
		{"png", func(b []byte) bool { return len(b) >= 4 && string(b[1:4]) == "PNG" }},
	}
	for _, tc := range cases {
		// The API resolves image targets to an Image bundle, so feed exactly that.
		bundle, err := settings.Resolve(tc.target, settings.Options{Quality: intPtr(40)})
		if err != nil {
			t.Fatalf("Resolve %s: %v", tc.target, err)
		}
		out, err := conv.Convert(context.Background(), minimalPDF, tc.target, bundle)
		if err != nil {
			t.Fatalf("Convert %s: %v", tc.target, err)
		}
		if !tc.magic(out) {
			t.Fatalf("expected %s output, got %q", tc.target, out[:min(len(out), 16)])
		}
		if args := readArgs(t, argsFile); !strings.Contains(args, "-r 300") {
			t.Fatalf("%s: expected configured dpi in pdftoppm args %q", tc.target, args)
		}
	}
}

func TestDocumentRasterizeDefaultsDPI(t *testing.T) {
	argsFile := installRasterStub(t)
	conv := converter.NewDocument("soffice-missing", "pdftoppm-stub", 0, converter.NewImage())
	if _, err := conv.Convert(context.Background(), minimalPDF, "png", settings.Image{}); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if args := readArgs(t, argsFile); !strings.Contains(args, "-r 200") {
		t.Fatalf("expected default dpi in pdftoppm args %q", args)
	}
}

type recordingConverter struct {
	bundle settings.Bundle
}

func (r *recordingConverter) Convert(_ context.Context, _ []byte, _ string, bundle settings.Bundle) ([]byte, error) {
	r.bundle = bundle
	return []byte("encoded"), nil
}

func TestDocumentRasterizePassesQualityToEncoder(t *testing.T) {
	installRasterStub(t)
	images := &recordingConverter{}
	conv := converter.NewDocument("soffice-missing", "pdftoppm-stub", 0, images)
	bundle, err := settings.Resolve("jpg", settings.Options{Quality: intPtr(40)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := conv.Convert(context.Background(), minimalPDF, "jpg", bundle); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got, ok := images.bundle.(settings.Image); !ok || got.Quality != 40 {
		t.Fatalf("expected quality 40 passed to the encoder, got %#v", images.bundle)
	}
}

func TestDocumentRejectsUnsupportedPairs(t *testing.T) {
	conv := converter.NewDocument("soffice", "pdftoppm", 0, converter.NewImage())
	cases := []struct {
		input  []byte
		target string
	}{
		{[]byte("plain text"), "png"},
		{[]byte("%PDF-1.4\n%%EOF\n"), "docx"},
		{[]byte("plain text"), "mp3"},
	}
	for _, tc := range cases {
		_, err := conv.Convert(context.Background(), tc.input, tc.target, settings.Document{DPI: 200})
		if cerr, ok := converter.AsError(err); !ok || cerr.Kind != converter.KindUnsupportedTarget {
			t.Fatalf("%s: expected unsupported target, got %v", tc.target, err)
		}
	}
}

func TestDefaultRegistryCoversEveryCategory(t *testing.T) {
	cfg := config.Default()
	reg := converter.NewDefaultRegistry(&cfg)
	for _, category := range formats.Categories {
		if _, ok := reg.For(category); !ok {
			t.Fatalf("no converter for %s", category)
		}
	}
}
