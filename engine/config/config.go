package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("config: invalid settings")

// CullingSettings are the culling CVARs. They are read every frame, so toggling them takes
// effect on the next Render; TwoStep only applies to renderers created afterwards.
type CullingSettings struct {
	Enabled    bool `toml:"enabled"`
	Occlusion  bool `toml:"occlusion"`
	TwoStep    bool `toml:"two_step"`
	DebugStats bool `toml:"debug_stats"`
}

// RenderSettings select the backend and the surface.
type RenderSettings struct {
	Width          int    `toml:"width"`
	Height         int    `toml:"height"`
	Backend        string `toml:"backend"`
	PresentMode    string `toml:"present_mode"`
	ShadowCascades int    `toml:"shadow_cascades"`
}

// LoaderSettings size the loader worker pools.
type LoaderSettings struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// ProfilerSettings control the periodic statistics log.
type ProfilerSettings struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses strings like "2s" or "500ms".
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration back in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Settings is the whole configuration file.
type Settings struct {
	Culling  CullingSettings  `toml:"culling"`
	Render   RenderSettings   `toml:"render"`
	Loader   LoaderSettings   `toml:"loader"`
	Profiler ProfilerSettings `toml:"profiler"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		Culling: CullingSettings{Enabled: true, Occlusion: true, TwoStep: true},
		Render: RenderSettings{
			Width:          1280,
			Height:         720,
			Backend:        "wgpu",
			PresentMode:    "vsync",
			ShadowCascades: 3,
		},
		Loader:   LoaderSettings{Workers: 4, QueueSize: 256},
		Profiler: ProfilerSettings{Interval: Duration{2 * time.Second}},
	}
}

// Load decodes a TOML file over the defaults, so a file only needs the keys it changes.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - Settings: the merged and validated settings
//   - error: a read, decode or validation error
func Load(path string) (Settings, error) {
	s := Default()
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return Settings{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("config: load %s: unknown keys %v: %w", path, undecoded, ErrInvalid)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadOrDefault loads path, returning the defaults when the file does not exist.
func LoadOrDefault(path string) (Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes the settings as TOML, creating the directory when needed.
//
// Parameters:
//   - path: the file to write
//
// Returns:
//   - error: an encode or write error
func (s Settings) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: save %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: save %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (s Settings) Validate() error {
	switch {
	case s.Render.Width <= 0 || s.Render.Height <= 0:
		return fmt.Errorf("render size %dx%d: %w", s.Render.Width, s.Render.Height, ErrInvalid)
	case s.Render.Backend != "wgpu" && s.Render.Backend != "software":
		return fmt.Errorf("render backend %q: %w", s.Render.Backend, ErrInvalid)
	case s.Render.PresentMode != "vsync" && s.Render.PresentMode != "uncapped":
		return fmt.Errorf("present mode %q: %w", s.Render.PresentMode, ErrInvalid)
	case s.Render.ShadowCascades < 0 || s.Render.ShadowCascades > 7:
		return fmt.Errorf("%d shadow cascades, want 0 to 7: %w", s.Render.ShadowCascades, ErrInvalid)
	case s.Loader.Workers <= 0 || s.Loader.QueueSize <= 0:
		return fmt.Errorf("loader workers %d queue %d: %w", s.Loader.Workers, s.Loader.QueueSize, ErrInvalid)
	case s.Profiler.Enabled && s.Profiler.Interval.Duration <= 0:
		return fmt.Errorf("profiler interval %v: %w", s.Profiler.Interval, ErrInvalid)
	}
	return nil
}
