// Package logx configures shelfbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Scoped lines (system/resources/tasks/storage) in a single stream
package logx
