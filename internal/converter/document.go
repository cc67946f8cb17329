package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"convertd/internal/formats"
	"convertd/internal/settings"
)

// sofficeFilters names the export filter used for each office target.
var sofficeFilters = map[string]string{
	"pdf":  "pdf",
	"docx": "docx:MS Word 2007 XML",
	"txt":  "txt:Text (encoded):UTF8",
	"rtf":  "rtf",
}

const defaultRasterDPI = 200

// Document converts office documents with soffice and rasterizes PDFs with
// pdftoppm. Only the first page of a PDF is rendered.
type Document struct {
	soffice   string
	pdftoppm  string
	rasterDPI int
	images    Converter
}

// NewDocument returns a document converter. PDF pages are rendered at
// rasterDPI, and images re-encodes them into targets pdftoppm cannot write
// directly.
func NewDocument(sofficeBinary, pdftoppmBinary string, rasterDPI int, images Converter) *Document {
	if rasterDPI <= 0 {
		rasterDPI = defaultRasterDPI
	}
	return &Document{soffice: sofficeBinary, pdftoppm: pdftoppmBinary, rasterDPI: rasterDPI, images: images}
}

func (c *Document) Convert(ctx context.Context, input []byte, target string, bundle settings.Bundle) ([]byte, error) {
	target = formats.NormalizeExtension(target)
	// Image targets resolve to an Image bundle; only its quality applies here.
	quality := 0
	switch b := bundle.(type) {
	case settings.Document:
		quality = b.Quality
	case settings.Image:
		quality = b.Quality
	}
	if err := contextError(ctx, formats.Document, target); err != nil {
		return nil, err
	}

	isPDF := sniffExtension(input) == ".pdf"
	switch {
	case formats.CategoryForTarget(target) == formats.Image && formats.IsKnownFormat(target):
		if !isPDF {
			return nil, unsupported(formats.Document, target)
		}
		return c.rasterize(ctx, input, target, quality)
	case sofficeFilters[target] != "":
		if isPDF && target != "pdf" {
			return nil, unsupported(formats.Document, target)
		}
		return c.office(ctx, input, target)
	default:
		return nil, unsupported(formats.Document, target)
	}
}

func (c *Document) office(ctx context.Context, input []byte, target string) ([]byte, error) {
	workDir, err := os.MkdirTemp("", "convertd-doc-")
	if err != nil {
		return nil, newError(KindBackend, formats.Document, target, "create work directory", err)
	}
	defer os.RemoveAll(workDir)

	source, err := writeSource(workDir, input)
	if err != nil {
		return nil, newError(KindBackend, formats.Document, target, "stage source", err)
	}
	outDir := filepath.Join(workDir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, newError(KindBackend, formats.Document, target, "create output directory", err)
	}

	// A private profile directory lets concurrent soffice processes coexist.
	profile := "-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(workDir, "profile"))
	err = runTool(ctx, c.soffice, profile, "--headless", "--norestore",
		"--convert-to", sofficeFilters[target], "--outdir", outDir, source)
	if err != nil {
		if cerr := contextError(ctx, formats.Document, target); cerr != nil {
			return nil, cerr
		}
		return nil, newError(KindBackend, formats.Document, target, "soffice failed", err)
	}

	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	out, err := os.ReadFile(filepath.Join(outDir, stem+"."+target))
	if err != nil {
		return nil, newError(KindEncode, formats.Document, target, "soffice produced no output", err)
	}
	return out, nil
}

func (c *Document) rasterize(ctx context.Context, input []byte, target string, quality int) ([]byte, error) {
	workDir, err := os.MkdirTemp("", "convertd-pdf-")
	if err != nil {
		return nil, newError(KindBackend, formats.Document, target, "create work directory", err)
	}
	defer os.RemoveAll(workDir)

	source, err := writeSource(workDir, input)
	if err != nil {
		return nil, newError(KindBackend, formats.Document, target, "stage source", err)
	}
	prefix := filepath.Join(workDir, "page")
	err = runTool(ctx, c.pdftoppm, "-r", strconv.Itoa(c.rasterDPI), "-f", "1", "-l", "1", "-singlefile", "-png", source, prefix)
	if err != nil {
		if cerr := contextError(ctx, formats.Document, target); cerr != nil {
			return nil, cerr
		}
		return nil, newError(KindBackend, formats.Document, target, "pdftoppm failed", err)
	}
	page, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, newError(KindEncode, formats.Document, target, "pdftoppm produced no output", err)
	}
	if target == "png" {
		return page, nil
	}
	out, err := c.images.Convert(ctx, page, target, settings.Image{Quality: quality})
	if err != nil {
		return nil, fmt.Errorf("re-encode rendered page: %w", err)
	}
	return out, nil
}
