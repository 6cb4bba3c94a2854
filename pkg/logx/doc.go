// Package logx configures nagbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional event sink (min-level + rate limiting) feeding the in-process bus
package logx
