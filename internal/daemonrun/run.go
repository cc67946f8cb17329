// Package daemonrun is the process runtime behind the convertd binary: it
// installs signal handling, builds the logger, writes the pid file and runs
// the daemon until shutdown.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"convertd/internal/config"
	"convertd/internal/daemon"
	"convertd/internal/logging"
	"convertd/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	Role        daemon.Role
	LogLevel    string
	Development bool
}

// Run starts the convertd runtime loop and blocks until SIGINT/SIGTERM or a
// component failure.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	role := opts.Role
	if role == "" {
		role = daemon.RoleAll
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := runLogPath(cfg.Paths.LogDir, role, time.Now())
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if role != daemon.RoleAPI {
		logDependencySnapshot(logger, cfg)
	}
	rotateLogs(logger, cfg, role, logPath)

	pidPath := filepath.Join(cfg.Paths.StateDir, fmt.Sprintf("convertd-%s.pid", role))
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(signalCtx, cfg, role, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker and storage configuration"),
		)
		return err
	}
	defer d.Close()

	if err := d.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("convertd shut down", logging.String("role", string(role)))
	return nil
}

// runLogPath names the log file for one run. Each start writes a new file and
// convertd-<role>.log points at the latest.
func runLogPath(logDir string, role daemon.Role, started time.Time) string {
	runID := started.UTC().Format("20060102T150405.000Z")
	return filepath.Join(logDir, fmt.Sprintf("convertd-%s-%s.log", role, runID))
}

// rotateLogs repoints the current-log link at logPath and deletes earlier run
// logs of the same role past logging.retention_days.
func rotateLogs(logger *slog.Logger, cfg *config.Config, role daemon.Role, logPath string) {
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, role, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update convertd-%s.log link: %v\n", role, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: fmt.Sprintf("convertd-%s-*.log", role),
		Keep:    []string{logPath},
	})
}

func ensureCurrentLogPointer(logDir string, role daemon.Role, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, fmt.Sprintf("convertd-%s.log", role))
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logDependencySnapshot records which converter binaries resolved so a
// missing one shows up before the first job fails on it.
func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := preflight.CheckSystemDeps(cfg)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, s := range statuses {
		attrs = append(attrs,
			logging.Bool(s.Name+"_available", s.Available),
			logging.String(s.Name+"_binary", s.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)

	for _, s := range statuses {
		if s.Available || s.Optional {
			continue
		}
		logging.WarnWithContext(logger, "converter binary missing", "dependency_missing",
			logging.String("dependency", s.Name),
			logging.String("detail", s.Detail),
			logging.String(logging.FieldErrorHint, "install it or set the path under [converters]"),
			logging.String(logging.FieldImpact, s.Description+"; such jobs will fail"),
		)
	}
}
