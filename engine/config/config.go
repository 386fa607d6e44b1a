package config

import (
	"bytes"
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type ApplicationConfig struct {
	// The application name used in windowing.
	Name string `toml:"name"`
	// debug, info, warn, error or fatal.
	LogLevel string `toml:"log_level"`
	// Root of the runtime assets, shaders are expected under <AssetsDir>/shaders.
	AssetsDir string `toml:"assets_dir"`
	// Watch the shader directory and rebuild affected stages on change.
	HotReload bool `toml:"hot_reload"`

	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
}

type WindowConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32 `toml:"x"`
	// Window starting position y axis, if applicable.
	StartPosY uint32 `toml:"y"`
	// Window starting width.
	StartWidth uint32 `toml:"width"`
	// Window starting height.
	StartHeight uint32 `toml:"height"`
}

type RendererConfig struct {
	EnableValidation bool `toml:"enable_validation"`
	// RGBA used by the clear stage.
	ClearColor [4]float32 `toml:"clear_color"`
}

func Default() *ApplicationConfig {
	return &ApplicationConfig{
		Name:      "A Small World",
		LogLevel:  "info",
		AssetsDir: "assets",
		HotReload: false,
		Window: WindowConfig{
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
		},
		Renderer: RendererConfig{
			EnableValidation: true,
			ClearColor:       [4]float32{0.5, 0, 0.5, 1},
		},
	}
}

// Load reads the TOML file at path on top of Default. A missing file is not
// an error, the defaults are returned as-is.
func Load(path string) (*ApplicationConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ApplicationConfig) Validate() error {
	if c.Window.StartWidth == 0 || c.Window.StartHeight == 0 {
		return errors.Wrapf(ErrInvalidConfig, "window size %dx%d", c.Window.StartWidth, c.Window.StartHeight)
	}
	if c.Name == "" {
		return errors.Wrap(ErrInvalidConfig, "empty application name")
	}
	if c.AssetsDir == "" {
		return errors.Wrap(ErrInvalidConfig, "empty assets directory")
	}
	return nil
}
