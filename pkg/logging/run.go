package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

const (
	// TimeFormat is the timestamp embedded in run log file names.
	TimeFormat = "20060102-150405"

	rotationTime = time.Hour
	maxAge       = 720 * time.Hour
)

// Options configures a run logger.
type Options struct {
	// Dir receives the run log file. Empty disables the file sink.
	Dir     string
	Dataset string
	Party   int

	// Level is a slog level name (debug, info, warn, error). Empty means info.
	Level string
	// Format is "text" (default) or "json".
	Format string

	// Console receives a copy of every record. Nil means os.Stderr.
	Console io.Writer
	// Now overrides the clock used for the file name.
	Now func() time.Time
}

// Run is the logger of one training run together with its sinks.
type Run struct {
	Logger Logger
	RunID  string
	// Path is the run log file name, empty when the file sink is disabled.
	Path string

	closer io.Closer
}

// FileName returns the run log file name for the given dataset, start time and
// party.
func FileName(dataset string, start time.Time, party int) string {
	return fmt.Sprintf("%s_%s_client%d.log", dataset, start.Format(TimeFormat), party)
}

// Open builds a run logger according to opts.
func Open(opts Options) (*Run, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	run := &Run{RunID: uuid.NewString()}
	out := console
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		run.Path = filepath.Join(opts.Dir, FileName(opts.Dataset, now(), opts.Party))
		rl, err := rotatelogs.New(
			strings.ReplaceAll(run.Path, "%", "%%")+".%Y%m%d%H",
			rotatelogs.WithLinkName(run.Path),
			rotatelogs.WithMaxAge(maxAge),
			rotatelogs.WithRotationTime(rotationTime),
		)
		if err != nil {
			return nil, fmt.Errorf("logging: open run log: %w", err)
		}
		run.closer = rl
		out = io.MultiWriter(console, rl)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(out, handlerOpts)
	case "json":
		h = slog.NewJSONHandler(out, handlerOpts)
	default:
		if run.closer != nil {
			_ = run.closer.Close()
		}
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	run.Logger = ForRun(New(slog.New(h)), run.RunID, opts.Party)
	return run, nil
}

// Close releases the file sink.
func (r *Run) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, errors.Join(fmt.Errorf("logging: invalid level %q", name), err)
	}
	return level, nil
}
