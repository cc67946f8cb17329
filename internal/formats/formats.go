// Package formats holds the fixed extension and MIME membership tables that
// map files to conversion categories.
package formats

import (
	"path/filepath"
	"slices"
	"strings"
)

// Category groups formats that share a converter and a settings schema.
type Category string

const (
	Image    Category = "image"
	Audio    Category = "audio"
	Video    Category = "video"
	Document Category = "document"
)

// Categories lists every category in table order.
var Categories = []Category{Image, Audio, Video, Document}

var extensions = map[Category][]string{
	Image:    {"jpeg", "jpg", "png", "webp", "bmp", "tiff", "tif", "gif", "ico"},
	Audio:    {"mp3", "wav", "aac", "flac", "ogg", "opus", "m4a", "wma", "amr", "ac3"},
	Video:    {"mp4", "mkv", "mov", "avi", "webm", "flv", "wmv", "mpeg", "mpg"},
	Document: {"pdf", "docx", "txt", "rtf"},
}

var byExtension = func() map[string]Category {
	out := make(map[string]Category)
	for _, category := range Categories {
		for _, ext := range extensions[category] {
			out[ext] = category
		}
	}
	return out
}()

// NormalizeExtension lower-cases ext and strips a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Extensions returns the members of category.
func Extensions(category Category) []string {
	return slices.Clone(extensions[category])
}

// CategoryForExtension reports the category whose table contains ext.
func CategoryForExtension(ext string) (Category, bool) {
	category, ok := byExtension[NormalizeExtension(ext)]
	return category, ok
}

// CategoryForFilename classifies a file by its extension.
func CategoryForFilename(name string) (Category, bool) {
	return CategoryForExtension(filepath.Ext(name))
}

// CategoryForTarget maps a target format to the category whose settings schema
// applies. The mapping is total: anything outside the audio, video, and document
// tables is treated as an image target.
func CategoryForTarget(target string) Category {
	switch category, _ := CategoryForExtension(target); category {
	case Audio, Video, Document:
		return category
	default:
		return Image
	}
}

// IsKnownFormat reports whether ext appears in any table.
func IsKnownFormat(ext string) bool {
	_, ok := CategoryForExtension(ext)
	return ok
}

// CategoryForMIME classifies a sniffed content type. Container formats that
// carry audio or video, such as Ogg, map to Audio.
func CategoryForMIME(mime string) (Category, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return Image, true
	case strings.HasPrefix(mime, "audio/"), mime == "application/ogg":
		return Audio, true
	case strings.HasPrefix(mime, "video/"):
		return Video, true
	case mime == "application/pdf",
		mime == "application/rtf",
		mime == "text/rtf",
		strings.HasPrefix(mime, "text/plain"),
		strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument.wordprocessingml"):
		return Document, true
	default:
		return "", false
	}
}

// Compatible reports whether content sniffed as got may be submitted under a
// name declaring want. Audio and video share containers, so they are treated
// as interchangeable.
func Compatible(want, got Category) bool {
	if want == got {
		return true
	}
	media := func(c Category) bool { return c == Audio || c == Video }
	return media(want) && media(got)
}
