//go:build ignore
// +build ignore

package main

import (
	"fmt"
	"os"
	"strings"

	cfg "github.com/ArkLabsHQ/lnswap/internal/config"
)

func main() {
	var md strings.Builder
	md.WriteString("# lnswapd environment\n\n")
	md.WriteString("Generated from `config.EnvSpecs()`, do not edit.\n\n")
	md.WriteString("| Variable | Default | Type | Description | Notes |\n")
	md.WriteString("|----------|---------|------|-------------|-------|\n")

	for _, s := range cfg.EnvSpecs() {
		def := s.Default
		if def == "" {
			def = "-"
		}
		fmt.Fprintf(&md, "| `%s` | `%s` | %s | %s | %s |\n", s.FullName, def, s.Type, s.Description, s.Notes)
	}

	if err := os.MkdirAll("../../docs", 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile("../../docs/environment.md", []byte(md.String()), 0o644); err != nil {
		panic(err)
	}
}
