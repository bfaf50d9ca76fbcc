// Package logx configures sheetwatch's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - Optional file output JSON-structured
//   - Level/sink swaps at runtime when the config reloads
package logx
