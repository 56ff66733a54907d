// Package logging provides structured logging for spotbridge runs.
//
// This package wraps Go's log/slog to emit JSON lines. Every detection run
// gets a child logger tagged with its run ID and tool, so the log of a batch
// can be filtered per run afterwards.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithRun(runID).WithTool("cellpose")
//	runLogger.Info("environment ready", "dir", env.Dir)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"environment ready","run_id":"...","tool":"cellpose","dir":"..."}
//
// # Log Rotation
//
// Use [NewLoggerWithRotation] with a [RotationConfig] to cap the log size.
// Rotated files are named spotbridge.log.1, spotbridge.log.2, etc., where .1
// is the most recent backup. With compression enabled they become
// spotbridge.log.1.gz, etc.
//
// A child logger shares its parent's file, so closing either closes both.
package logging
