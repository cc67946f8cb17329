package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"convertd/internal/services"
	"convertd/internal/settings"
)

// maxFieldBytes bounds every non-file form value.
const maxFieldBytes = 1 << 10

var errFileTooLarge = fmt.Errorf("%w: upload exceeds the maximum size", services.ErrTooLarge)

// upload is a parsed POST /convert form.
type upload struct {
	filename string
	content  []byte
	target   string
	options  settings.Options
}

// formError is a client mistake in the form itself.
type formError struct{ msg string }

func (e *formError) Error() string { return e.msg }
func (e *formError) Unwrap() error { return services.ErrValidation }

func badForm(format string, args ...any) error {
	return &formError{msg: fmt.Sprintf(format, args...)}
}

// readUpload streams the multipart body. screen runs on the file name before
// any file content is read.
func readUpload(mr *multipart.Reader, maxFile int64, screen func(string) error) (upload, error) {
	var (
		u       upload
		hasFile bool
		fields  = make(map[string]string)
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return upload{}, classifyBodyError(err)
		}

		name := part.FormName()
		if name == "file" {
			if hasFile {
				part.Close()
				return upload{}, badForm("only one file may be uploaded")
			}
			hasFile = true
			u.filename = part.FileName()
			if err := screen(u.filename); err != nil {
				part.Close()
				return upload{}, err
			}
			data, err := io.ReadAll(io.LimitReader(part, maxFile+1))
			part.Close()
			if err != nil {
				return upload{}, classifyBodyError(err)
			}
			if int64(len(data)) > maxFile {
				return upload{}, errFileTooLarge
			}
			u.content = data
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
		part.Close()
		if err != nil {
			return upload{}, classifyBodyError(err)
		}
		if len(value) > maxFieldBytes {
			return upload{}, badForm("field %s is too long", name)
		}
		if name != "" {
			fields[name] = strings.TrimSpace(string(value))
		}
	}

	if !hasFile {
		return upload{}, badForm("file is required")
	}
	u.target = fields["convert_to"]
	if u.target == "" {
		u.target = fields["target_format"]
	}
	if u.target == "" {
		return upload{}, badForm("convert_to is required")
	}
	opts, err := parseOptions(fields)
	if err != nil {
		return upload{}, err
	}
	u.options = opts
	return u, nil
}

func classifyBodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errFileTooLarge
	}
	return badForm("malformed multipart body: %v", err)
}

// parseOptions maps form fields onto the flat option union.
func parseOptions(fields map[string]string) (settings.Options, error) {
	var (
		opts settings.Options
		err  error
	)
	if opts.RemoveMetadata, err = formBool(fields, "remove_metadata"); err != nil {
		return opts, err
	}
	if opts.Optimize, err = formBool(fields, "optimize"); err != nil {
		return opts, err
	}
	ints := []struct {
		key string
		dst **int
	}{
		{"quality", &opts.Quality},
		{"sample_rate", &opts.SampleRate},
		{"channels", &opts.Channels},
		{"crf", &opts.CRF},
		{"fps", &opts.FPS},
		{"dpi", &opts.DPI},
	}
	for _, f := range ints {
		if *f.dst, err = formInt(fields, f.key); err != nil {
			return opts, err
		}
	}
	opts.Codec = fields["codec"]
	opts.Bitrate = fields["bitrate"]
	opts.Preset = fields["preset"]
	opts.Profile = fields["profile"]
	return opts, nil
}

func formBool(fields map[string]string, key string) (bool, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return false, nil
	}
	switch strings.ToLower(raw) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badForm("%s must be a boolean", key)
	}
	return v, nil
}

func formInt(fields map[string]string, key string) (*int, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, badForm("%s must be an integer", key)
	}
	return &v, nil
}
