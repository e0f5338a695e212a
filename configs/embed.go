// Package configs embeds the configuration templates written by
// 'vaultrag init'.
package configs

import _ "embed"

// VaultConfigTemplate is the commented .vaultrag.yaml written into a
// vault root. Only a few settings are active; the rest document their
// defaults.
//
//go:embed vault-config.example.yaml
var VaultConfigTemplate string
