// Package logx configures herald's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A no-op zero value so components can be built without a logger
package logx
