// Package config holds the runtime settings: defaults, an optional TOML
// file and environment overrides, in that order. Command line flags are
// applied on top by main.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/logx"
)

// ValidationEnv turns validation layers off when set to 0 or false.
const ValidationEnv = "VK_VALIDATION"

// Duration is a time.Duration written as a string such as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Window struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
}

type Shaders struct {
	Vertex   string `toml:"vertex"`
	Fragment string `toml:"fragment"`
}

type Config struct {
	Window     Window  `toml:"window"`
	Shaders    Shaders `toml:"shaders"`
	Validation bool    `toml:"validation"`
	// PresentMode is one of mailbox, immediate, fifo or fifo_relaxed. FIFO
	// is the fallback when the surface does not offer it.
	PresentMode string `toml:"present_mode"`
	// FenceTimeout bounds each GPU wait. Zero waits forever.
	FenceTimeout  Duration   `toml:"fence_timeout"`
	ClearColor    [4]float32 `toml:"clear_color"`
	LogLevel      string     `toml:"log_level"`
	StatsInterval Duration   `toml:"stats_interval"`
}

func Default() Config {
	return Config{
		Window: Window{
			Width:  800,
			Height: 600,
			Title:  "vkframe",
		},
		Shaders: Shaders{
			Vertex:   "shaders/vert.spv",
			Fragment: "shaders/frag.spv",
		},
		Validation:    true,
		PresentMode:   "mailbox",
		FenceTimeout:  Duration{10 * time.Second},
		ClearColor:    [4]float32{0.05, 0.05, 0.08, 1.0},
		LogLevel:      "info",
		StatsInterval: Duration{5 * time.Second},
	}
}

// Load returns the defaults overlaid with the TOML file at path, if any,
// and with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// Decode overlays the TOML document in r onto cfg. Unknown keys are an
// error.
func Decode(r io.Reader, cfg *Config) error {
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// ApplyEnv applies environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(ValidationEnv); v != "" {
		c.Validation = ParseValidation(v)
	}
}

// ParseValidation reads a VK_VALIDATION value. Anything but an explicit
// off keeps validation on.
func ParseValidation(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "off", "no":
		return false
	default:
		return true
	}
}

var presentModes = map[string]vulkan.PresentMode{
	"mailbox":      vulkan.PresentModeMailbox,
	"immediate":    vulkan.PresentModeImmediate,
	"fifo":         vulkan.PresentModeFifo,
	"fifo_relaxed": vulkan.PresentModeFifoRelaxed,
}

// PresentModes returns the preferred present modes for the swapchain.
func (c Config) PresentModes() ([]vulkan.PresentMode, error) {
	m, ok := presentModes[strings.ToLower(c.PresentMode)]
	if !ok {
		return nil, fmt.Errorf("unknown present mode %q", c.PresentMode)
	}
	return []vulkan.PresentMode{m}, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	if c.Shaders.Vertex == "" || c.Shaders.Fragment == "" {
		errs = append(errs, errors.New("vertex and fragment shader paths are required"))
	}
	if _, err := c.PresentModes(); err != nil {
		errs = append(errs, err)
	}
	if c.FenceTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("fence timeout %s is negative", c.FenceTimeout))
	}
	if c.StatsInterval.Duration < 0 {
		errs = append(errs, fmt.Errorf("stats interval %s is negative", c.StatsInterval))
	}
	if _, err := logx.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for i, v := range c.ClearColor {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("clear color component %d = %g is outside [0, 1]", i, v))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
