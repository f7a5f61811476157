// Package config loads the skyjam-go configuration file. TOML, one file,
// explicit fields only: unknown keys are a load-time error, not silently
// accepted settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration surface.
type Config struct {
	// Username is the default account for commands that take none.
	Username string `toml:"username"`

	// UploaderID overrides the MAC-derived uploader identifier.
	UploaderID string `toml:"uploader_id"`

	// Locale is the ICU locale attached to calls as the hl parameter.
	Locale string `toml:"locale"`

	// LogLevel is the baseline slog level: debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Transcode TranscodeConfig `toml:"transcode"`
	Watch     WatchConfig     `toml:"watch"`
}

// TranscodeConfig controls the upload pipeline's encoder decisions.
type TranscodeConfig struct {
	Lossy    bool   `toml:"lossy"`
	Lossless bool   `toml:"lossless"`
	Quality  string `toml:"quality"`
}

// WatchConfig lists directories the watch command auto-uploads from.
type WatchConfig struct {
	Dirs []string `toml:"dirs"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Locale:   "en_US",
		LogLevel: "info",
		Transcode: TranscodeConfig{
			Lossy:    true,
			Lossless: true,
			Quality:  "320k",
		},
	}
}

// Load reads the config file at path. A missing file returns defaults; a
// present file must parse cleanly and contain only recognized keys.
func Load(path string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config: %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// validLogLevels enumerates accepted log_level values.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func (c *Config) validate() error {
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", c.LogLevel)
	}

	for _, dir := range c.Watch.Dirs {
		if dir == "" {
			return fmt.Errorf("watch.dirs contains an empty entry")
		}
	}

	return nil
}

// WriteDefault writes a commented default config file at path, refusing to
// overwrite an existing one.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}

	const template = `# skyjam-go configuration

# Default account username.
# username = "user@example.com"

# Uploader ID override (colon-separated MAC shape). Derived from the
# machine's hardware address when unset.
# uploader_id = "AA:BB:CC:DD:EE:FF"

locale = "en_US"
log_level = "info"

[transcode]
lossy = true
lossless = true
quality = "320k"

[watch]
# dirs = ["/home/user/Music"]
dirs = []
`

	return os.WriteFile(path, []byte(template), 0o644)
}
