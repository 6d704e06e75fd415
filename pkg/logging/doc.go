// Package logging provides the logging facade used across the client.
//
// Protocol packages depend only on the small Logger interface, which wraps a
// subset of log/slog:
//
//	type Logger interface {
//	    Debug(ctx context.Context, msg string, args ...any)
//	    Info(ctx context.Context, msg string, args ...any)
//	    Warn(ctx context.Context, msg string, args ...any)
//	    Error(ctx context.Context, msg string, args ...any)
//	    With(args ...any) Logger
//	}
//
// New binds the interface to a *slog.Logger and Discard drops everything.
// ForRun and Component add the run_id, party and component attributes.
//
// # Run logs
//
// Open builds the logger of a training run. Records go to stderr and to a
// per-run file named
//
//	<dataset>_<timestamp>_client<party>.log
//
// inside the configured directory. The file name is a symlink maintained by
// file-rotatelogs; the data lives in hourly segments next to it. Every record
// carries the run identifier:
//
//	run, err := logging.Open(logging.Options{Dir: "logs", Dataset: "bank", Party: 0})
//	if err != nil { ... }
//	defer run.Close()
//	run.Logger.Info(ctx, "connected", "engines", 3)
//
// # Secrets
//
// Never log private inputs, triple shares, or masked values. Log counts and
// positions instead, and use Redacted where an attribute would otherwise
// carry a value:
//
//	logger.Debug(ctx, "triple verified", "index", i, logging.Redacted("a"))
package logging
