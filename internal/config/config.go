// Package config loads the server's media library manifest: a media
// root plus optional per-file library entries. This is additive to
// spec.md §6's bare `server <port>` form — a single media directory
// still works with zero config.
//
// cmd/server hands only MediaRoot to each session, and SETUP opens the
// request's base filename under MediaRoot. Library entries are decoded
// and answered by Resolve and FPSOverride, but the server's SETUP and
// send loop do not consult them.
//
// Grounded in angkira-rpi-webrtc-streamer's go/config/config.go
// (TOML-via-BurntSushi, defaults-then-overlay load pattern).
//
// Created by WINK Streaming (https://www.wink.co)
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// MediaEntry describes one streamable file beyond the bare filename
// SETUP already resolves relative to the media root.
type MediaEntry struct {
	Path        string `toml:"path"`
	DisplayName string `toml:"display_name"`
	FPSOverride int    `toml:"fps_override"`
}

// ServerConfig is the top-level TOML document accepted by
// `--config`/`-c`.
type ServerConfig struct {
	MediaRoot string                `toml:"media_root"`
	Library   map[string]MediaEntry `toml:"library"`
	Log       LogConfig             `toml:"log"`
}

// LogConfig holds the manifest's [log] table. cmd/server sets the log
// level from its --debug flag only; Level is decoded but not applied.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration spec.md §6's bare CLI form
// implies: everything under mediaRoot is servable, info-level logging.
func Default(mediaRoot string) *ServerConfig {
	return &ServerConfig{
		MediaRoot: mediaRoot,
		Library:   map[string]MediaEntry{},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads and decodes a TOML manifest at path. Relative MediaRoot
// values are resolved against the directory containing path, so the
// manifest can be deployed alongside its media.
func Load(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{Log: LogConfig{Level: "info"}}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if cfg.MediaRoot == "" {
		return nil, fmt.Errorf("config %s: media_root is required", path)
	}
	if !filepath.IsAbs(cfg.MediaRoot) {
		cfg.MediaRoot = filepath.Join(filepath.Dir(path), cfg.MediaRoot)
	}
	if cfg.Library == nil {
		cfg.Library = map[string]MediaEntry{}
	}
	return cfg, nil
}

// Resolve looks up an entry's effective on-disk path, falling back to
// filename resolved directly against MediaRoot when the manifest
// carries no override for it (the bare-directory case).
func (c *ServerConfig) Resolve(filename string) string {
	if entry, ok := c.Library[filename]; ok && entry.Path != "" {
		if filepath.IsAbs(entry.Path) {
			return entry.Path
		}
		return filepath.Join(c.MediaRoot, entry.Path)
	}
	return filepath.Join(c.MediaRoot, filepath.Base(filename))
}

// FPSOverride returns the configured frame rate for filename, or ok
// false when the library carries no override.
func (c *ServerConfig) FPSOverride(filename string) (fps int, ok bool) {
	entry, found := c.Library[filename]
	if !found || entry.FPSOverride == 0 {
		return 0, false
	}
	return entry.FPSOverride, true
}

// EnsureMediaRoot verifies the configured directory exists and is a
// directory, surfaced at startup rather than at the first SETUP.
func (c *ServerConfig) EnsureMediaRoot() error {
	info, err := os.Stat(c.MediaRoot)
	if err != nil {
		return fmt.Errorf("media root %s: %w", c.MediaRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root %s is not a directory", c.MediaRoot)
	}
	return nil
}
