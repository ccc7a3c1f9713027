// Package logx configures inkdash's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The Service supports swapping sinks/levels at runtime (config hot reload),
// so component loggers created from it stay live across Apply() calls.
package logx
