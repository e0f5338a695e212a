// Package logging configures structured slog output for vaultrag.
//
// Logs are JSON lines written to ~/.vaultrag/logs/vaultrag.log with
// size-based rotation. Interactive commands may tee to stderr; the MCP
// server never does, because stdout and stderr belong to the protocol
// stream and the host.
package logging
