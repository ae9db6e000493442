// Package config reads the engine's INI configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

const logSection = "Log"

// Config is a loaded configuration. The zero value of every setting is its
// default.
type Config struct {
	file *ini.File
}

// Load reads the configuration at path. A missing file gives the default
// configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads a configuration from data.
func Parse(data []byte) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:         true,
		IgnoreInlineComment: true,
		Loose:               true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &Config{file: f}, nil
}

// Default returns an empty configuration.
func Default() *Config {
	return &Config{file: ini.Empty(ini.LoadOptions{Insensitive: true})}
}

// Enabled resolves an option named "Section:key" as a boolean. def is
// returned when the option is absent or not a boolean.
func (c *Config) Enabled(option string, def bool) bool {
	section, key, ok := strings.Cut(option, ":")
	if !ok {
		return def
	}
	k, err := c.file.Section(section).GetKey(key)
	if err != nil {
		return def
	}
	v, err := k.Bool()
	if err != nil {
		return def
	}
	return v
}

// String returns section/key or def.
func (c *Config) String(section, key, def string) string {
	k, err := c.file.Section(section).GetKey(key)
	if err != nil || k.String() == "" {
		return def
	}
	return k.String()
}

// Logger builds a logger writing to w from the [Log] section: sLevel is
// one of debug, info, warn, error and sFormat is text or json.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.String(logSection, "sLevel", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.String(logSection, "sFormat", "text"), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
