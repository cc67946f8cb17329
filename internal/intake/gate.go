package intake

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"convertd/internal/config"
	"convertd/internal/formats"
	"convertd/internal/textutil"
)

// signatureWindow is how many leading content bytes are inspected for
// executable and script headers.
const signatureWindow = 100

var binarySignatures = [][]byte{
	[]byte("MZ"),             // PE / DOS
	[]byte("\x7fELF"),        // ELF
	{0xfe, 0xed, 0xfa, 0xce}, // Mach-O 32
	{0xfe, 0xed, 0xfa, 0xcf}, // Mach-O 64
	{0xce, 0xfa, 0xed, 0xfe}, // Mach-O 32, little endian
	{0xcf, 0xfa, 0xed, 0xfe}, // Mach-O 64, little endian
	{0xca, 0xfe, 0xba, 0xbe}, // Mach-O universal
	[]byte("#!"),             // script shebang
}

var embeddedMarkup = [][]byte{
	[]byte("<script"),
	[]byte("<?php"),
	[]byte("<%"),
	[]byte("<html"),
	[]byte("<iframe"),
}

// Accepted describes an upload that passed every check.
type Accepted struct {
	Filename string
	Category formats.Category
	MIME     string
	Size     int64
}

// Gate holds the compiled intake rules. It is safe for concurrent use.
type Gate struct {
	denied     []*regexp.Regexp
	allowed    []string
	limits     map[formats.Category]int64
	maxNameLen int
}

// NewGate compiles the intake rules from cfg.
func NewGate(cfg *config.Config) (*Gate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("intake: config is required")
	}
	g := &Gate{
		allowed:    append([]string(nil), cfg.Intake.AllowedMIMEPrefixes...),
		maxNameLen: cfg.Intake.MaxFilenameLength,
		limits: map[formats.Category]int64{
			formats.Image:    int64(cfg.Limits.ImageMB) << 20,
			formats.Audio:    int64(cfg.Limits.AudioMB) << 20,
			formats.Video:    int64(cfg.Limits.VideoMB) << 20,
			formats.Document: int64(cfg.Limits.DocumentMB) << 20,
		},
	}
	for _, pattern := range cfg.Intake.DeniedFilenamePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("intake: compile pattern %q: %w", pattern, err)
		}
		g.denied = append(g.denied, re)
	}
	return g, nil
}

// Limit returns the byte ceiling for category.
func (g *Gate) Limit(category formats.Category) int64 {
	return g.limits[category]
}

// ScreenFilename rejects names matching a denylisted pattern. It needs no
// content and runs before the upload body is read.
func (g *Gate) ScreenFilename(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return reject(KindBadFilename, "filename is required")
	}
	lowered := strings.ToLower(raw)
	for _, re := range g.denied {
		if re.MatchString(lowered) {
			return reject(KindBadFilename, "filename %q is not allowed", raw)
		}
	}
	return nil
}

// SanitizeFilename applies the gate's filename normalization.
func (g *Gate) SanitizeFilename(raw string) string {
	return textutil.SanitizeFileName(raw, g.maxNameLen)
}

// Validate runs every intake check against an upload destined for target.
func (g *Gate) Validate(raw string, content []byte, target string) (Accepted, error) {
	if err := g.ScreenFilename(raw); err != nil {
		return Accepted{}, err
	}
	name := g.SanitizeFilename(raw)

	if len(content) == 0 {
		return Accepted{}, reject(KindEmpty, "uploaded file is empty")
	}
	if err := screenSignature(content); err != nil {
		return Accepted{}, err
	}

	mime := mimetype.Detect(content).String()
	if !g.mimeAllowed(mime) {
		return Accepted{}, reject(KindUnsupportedType, "content type %s is not accepted", baseMIME(mime))
	}

	target = formats.NormalizeExtension(target)
	if !formats.IsKnownFormat(target) {
		return Accepted{}, reject(KindUnsupportedType, "target format %q is not supported", target)
	}

	category, ok := formats.CategoryForMIME(mime)
	if !ok {
		category = formats.CategoryForTarget(target)
	}
	if declared, ok := formats.CategoryForExtension(filepath.Ext(name)); ok && !formats.Compatible(declared, category) {
		return Accepted{}, reject(KindContentMismatch, "content is %s but the file name claims %s", category, declared)
	}

	size := int64(len(content))
	if limit := g.limits[category]; size > limit {
		return Accepted{}, reject(KindTooLarge, "%s uploads are limited to %d MiB", category, limit>>20)
	}

	return Accepted{Filename: name, Category: category, MIME: mime, Size: size}, nil
}

func (g *Gate) mimeAllowed(mime string) bool {
	base := baseMIME(mime)
	for _, prefix := range g.allowed {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

func screenSignature(content []byte) error {
	head := content
	if len(head) > signatureWindow {
		head = head[:signatureWindow]
	}
	for _, sig := range binarySignatures {
		if bytes.HasPrefix(head, sig) {
			return reject(KindMalicious, "file content looks like an executable or script")
		}
	}
	lowered := asciiLower(head)
	for _, marker := range embeddedMarkup {
		if bytes.Contains(lowered, marker) {
			return reject(KindMalicious, "file content contains embedded markup or code")
		}
	}
	return nil
}

func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func baseMIME(mime string) string {
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
