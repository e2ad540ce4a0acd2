package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths used when no config says otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	DataDir    string
}

// GetDefaults resolves default paths from the environment, most specific
// first:
//   - config: PINDASH_CONFIG_PATH, then $XDG_CONFIG_HOME/pindash.toml, then ~/.config/pindash.toml
//   - data:   PINDASH_HOME, then $XDG_DATA_HOME/pindash, then ~/.local/share/pindash
func GetDefaults() (Defaults, error) {
	configPath, err := lookupPath("PINDASH_CONFIG_PATH", "XDG_CONFIG_HOME", "pindash.toml", ".config")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := lookupPath("PINDASH_HOME", "XDG_DATA_HOME", "pindash", filepath.Join(".local", "share"))
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		DataDir:    filepath.Join(baseDir, "db"),
	}, nil
}

// lookupPath returns $override if set, else $xdgVar/name, else ~/homeRel/name.
func lookupPath(override, xdgVar, name, homeRel string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return filepath.Join(dir, name), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, homeRel, name), nil
}
