package config

import "strings"

// Pauses toggles module entry points without a redeploy.
type Pauses struct {
	Presale bool `toml:"Presale"`
}

// IsPaused reports whether the named module is paused. It satisfies the
// native pause view consulted by the presale engine.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "presale":
		return p.Presale
	default:
		return false
	}
}
