package converter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	maxToolOutput = 2048
	toolWaitDelay = 5 * time.Second
)

func runTool(ctx context.Context, binary string, args ...string) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.WaitDelay = toolWaitDelay
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	detail := strings.TrimSpace(string(output))
	if len(detail) > maxToolOutput {
		detail = detail[len(detail)-maxToolOutput:]
	}
	if detail == "" {
		return fmt.Errorf("%s: %w", binary, err)
	}
	return fmt.Errorf("%s: %w: %s", binary, err, detail)
}

// sniffExtension names staged inputs after their detected type so external
// tools that dispatch on file suffix pick the right decoder.
func sniffExtension(input []byte) string {
	return mimetype.Detect(input).Extension()
}
