package intake_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"convertd/internal/config"
	"convertd/internal/formats"
	"convertd/internal/intake"
	"convertd/internal/services"
	"convertd/internal/testsupport"
)

func newGate(t *testing.T, mutate ...func(*config.Config)) *intake.Gate {
	t.Helper()
	cfg := config.Default()
	for _, fn := range mutate {
		fn(&cfg)
	}
	gate, err := intake.NewGate(&cfg)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return gate
}

func kindOf(t *testing.T, err error) intake.Kind {
	t.Helper()
	var verr *intake.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return verr.Kind
}

func TestScreenFilenameRejectsDenylisted(t *testing.T) {
	gate := newGate(t)
	for _, name := range []string{
		"x.exe",
		"a.php.jpg",
		"evil.exe.jpg",
		"<script>.png",
		"run.SH",
		"payload.js",
		"eval(x).png",
		"../../etc/passwd.png",
		"dir/file.png",
		"nul\x00.png",
		"   ",
	} {
		if err := gate.ScreenFilename(name); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		} else if kindOf(t, err) != intake.KindBadFilename {
			t.Fatalf("unexpected kind for %q: %v", name, err)
		}
	}
	for _, name := range []string{"photo.JPG", "song.mp3", "report final.docx", "shell_script_notes.txt"} {
		if err := gate.ScreenFilename(name); err != nil {
			t.Fatalf("expected %q to pass, got %v", name, err)
		}
	}
}

func TestValidateAcceptsJPEG(t *testing.T) {
	gate := newGate(t)
	accepted, err := gate.Validate("My Photo.JPG", testsupport.JPEGBytes(t, 8, 8), "webp")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if accepted.Filename != "My_Photo.jpg" {
		t.Fatalf("unexpected sanitized name %q", accepted.Filename)
	}
	if accepted.Category != formats.Image || accepted.MIME != "image/jpeg" {
		t.Fatalf("unexpected classification %+v", accepted)
	}
}

func TestValidateRejectsExecutableSignatures(t *testing.T) {
	gate := newGate(t)
	payloads := map[string][]byte{
		"pe":      append([]byte("MZ\x90\x00"), bytes.Repeat([]byte{0}, 64)...),
		"elf":     append([]byte("\x7fELF\x02\x01"), bytes.Repeat([]byte{0}, 64)...),
		"macho":   {0xcf, 0xfa, 0xed, 0xfe, 0x07, 0x00, 0x00, 0x01},
		"shebang": []byte("#!/bin/sh\nrm -rf /\n"),
		"markup":  []byte("hello there <SCRIPT>alert(1)</script>"),
		"php":     []byte("just text <?php system($_GET['c']); ?>"),
	}
	for name, payload := range payloads {
		_, err := gate.Validate("innocent.png", payload, "png")
		if err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
		if kindOf(t, err) != intake.KindMalicious {
			t.Fatalf("%s: expected malicious kind, got %v", name, err)
		}
	}
}

func TestValidateSniffsContentNotExtension(t *testing.T) {
	gate := newGate(t)
	text := []byte(strings.Repeat("plain text content line\n", 220))
	_, err := gate.Validate("tiny.mp4", text, "mp4")
	if err == nil {
		t.Fatal("expected text renamed to mp4 to be rejected")
	}
	if kindOf(t, err) != intake.KindContentMismatch {
		t.Fatalf("expected content mismatch, got %v", err)
	}
	if services.HTTPStatus(err) != 400 {
		t.Fatalf("expected 400 mapping, got %d", services.HTTPStatus(err))
	}
}

func TestValidateRejectsDisallowedMIME(t *testing.T) {
	gate := newGate(t)
	zip := []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00" + strings.Repeat("\x00", 40))
	_, err := gate.Validate("archive.png", zip, "png")
	if err == nil {
		t.Fatal("expected zip content to be rejected")
	}
	if kindOf(t, err) != intake.KindUnsupportedType {
		t.Fatalf("expected unsupported type, got %v", err)
	}
}

func TestValidateRejectsUnknownTarget(t *testing.T) {
	gate := newGate(t)
	_, err := gate.Validate("photo.jpg", testsupport.JPEGBytes(t, 4, 4), "heic")
	if err == nil || kindOf(t, err) != intake.KindUnsupportedType {
		t.Fatalf("expected unsupported target, got %v", err)
	}
}

func TestValidateEnforcesCategoryCeiling(t *testing.T) {
	gate := newGate(t, func(c *config.Config) { c.Limits.DocumentMB = 1 })
	text := bytes.Repeat([]byte("a"), (1<<20)+1)
	_, err := gate.Validate("notes.txt", text, "pdf")
	if err == nil {
		t.Fatal("expected oversized document to be rejected")
	}
	if kindOf(t, err) != intake.KindTooLarge {
		t.Fatalf("expected too large, got %v", err)
	}
	if !errors.Is(err, services.ErrTooLarge) || services.HTTPStatus(err) != 413 {
		t.Fatalf("expected 413 mapping for %v", err)
	}
	if gate.Limit(formats.Document) != 1<<20 {
		t.Fatalf("unexpected document limit %d", gate.Limit(formats.Document))
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	gate := newGate(t)
	if _, err := gate.Validate("empty.png", nil, "png"); err == nil || kindOf(t, err) != intake.KindEmpty {
		t.Fatalf("expected empty rejection, got %v", err)
	}
}
