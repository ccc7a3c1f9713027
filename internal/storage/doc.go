package storage

// Package storage provides the optional run-history layer.
//
// Every rotation tick and archive pass can append a compact record here
// so operators can answer "when did the weather dashboard last render
// successfully" without grepping logs. Two backends:
//   - file: dependency-free JSON Lines with periodic compaction
//   - sqlite: single-file database (modernc.org/sqlite, no cgo)
