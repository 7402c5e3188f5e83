// Package logx configures netwatch's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller) on stderr,
//     leaving stdout to the measurement echo
//   - File output JSON-structured
//   - Repeated warnings throttled (see Throttle)
package logx
