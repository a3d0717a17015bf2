// Package config - Layered configuration: defaults, optional YAML file, environment.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/nvr-ai/helmet-watch/association"
	"github.com/nvr-ai/helmet-watch/dedup"
	"github.com/nvr-ai/helmet-watch/images"
	"github.com/nvr-ai/helmet-watch/models"
	"github.com/nvr-ai/helmet-watch/store"
	"github.com/nvr-ai/helmet-watch/stream"
)

// EnvPrefix prefixes every environment override, e.g. HELMETWATCH_DEDUP_RADIUS.
const EnvPrefix = "HELMETWATCH"

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// ProfilerConfig controls the periodic runtime report.
type ProfilerConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval" mapstructure:"report_interval"`
}

// Config is the complete application configuration.
type Config struct {
	Engine   association.Config   `json:"engine" yaml:"engine" mapstructure:"engine"`
	Dedup    dedup.Config         `json:"dedup" yaml:"dedup" mapstructure:"dedup"`
	Enhance  images.EnhanceConfig `json:"enhance" yaml:"enhance" mapstructure:"enhance"`
	Store    store.Config         `json:"store" yaml:"store" mapstructure:"store"`
	Classes  models.ClassIDs      `json:"classes" yaml:"classes" mapstructure:"classes"`
	Stream   stream.Config        `json:"stream" yaml:"stream" mapstructure:"stream"`
	Log      LogConfig            `json:"log" yaml:"log" mapstructure:"log"`
	Profiler ProfilerConfig       `json:"profiler" yaml:"profiler" mapstructure:"profiler"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Engine:   association.DefaultConfig(),
		Dedup:    dedup.DefaultConfig(),
		Enhance:  images.DefaultEnhanceConfig(),
		Store:    store.DefaultConfig(),
		Classes:  models.DefaultClassIDs(),
		Stream:   stream.DefaultConfig(),
		Log:      LogConfig{Level: "info"},
		Profiler: ProfilerConfig{ReportInterval: 30 * time.Second},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("engine.confidence_threshold", d.Engine.ConfidenceThreshold)
	v.SetDefault("engine.helmet_tolerance", d.Engine.HelmetTolerance)
	v.SetDefault("engine.helmet_iou", d.Engine.HelmetIoU)
	v.SetDefault("engine.no_helmet_tolerance", d.Engine.NoHelmetTolerance)
	v.SetDefault("engine.no_helmet_iou", d.Engine.NoHelmetIoU)
	v.SetDefault("engine.plate_search_below", d.Engine.PlateSearchBelow)
	v.SetDefault("engine.plate_tolerance", d.Engine.PlateTolerance)
	v.SetDefault("engine.plate_below_weight", d.Engine.PlateBelowWeight)
	v.SetDefault("engine.plate_other_weight", d.Engine.PlateOtherWeight)
	v.SetDefault("engine.crop_padding", d.Engine.CropPadding)
	v.SetDefault("engine.nms_iou", d.Engine.NMSIoU)
	v.SetDefault("engine.no_plate", string(d.Engine.NoPlate))
	v.SetDefault("engine.source", d.Engine.Source)
	v.SetDefault("engine.images_dir", d.Engine.ImagesDir)
	v.SetDefault("engine.jpeg_quality", d.Engine.JPEGQuality)

	v.SetDefault("dedup.window", d.Dedup.Window)
	v.SetDefault("dedup.radius", d.Dedup.Radius)

	v.SetDefault("enhance.scale", d.Enhance.Scale)
	v.SetDefault("enhance.denoise_h", d.Enhance.DenoiseH)
	v.SetDefault("enhance.denoise_h_color", d.Enhance.DenoiseHColor)
	v.SetDefault("enhance.template_window", d.Enhance.TemplateWindow)
	v.SetDefault("enhance.search_window", d.Enhance.SearchWindow)
	v.SetDefault("enhance.clip_limit", d.Enhance.ClipLimit)
	v.SetDefault("enhance.tile_grid", d.Enhance.TileGrid)

	v.SetDefault("store.driver", string(d.Store.Driver))
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("classes.helmet", d.Classes.Helmet)
	v.SetDefault("classes.no_helmet", d.Classes.NoHelmet)
	v.SetDefault("classes.plate", d.Classes.Plate)
	v.SetDefault("classes.rider", d.Classes.Rider)

	v.SetDefault("stream.frame_skip", d.Stream.FrameSkip)
	v.SetDefault("stream.fps", d.Stream.FPS)
	v.SetDefault("stream.output_dir", d.Stream.OutputDir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)

	v.SetDefault("profiler.enabled", d.Profiler.Enabled)
	v.SetDefault("profiler.report_interval", d.Profiler.ReportInterval)
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then HELMETWATCH_* environment variables.
//
// Arguments:
//   - path: Optional config file.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: When the file cannot be read or a value is invalid.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if _, err := models.NewClassMap(c.Classes); err != nil {
		return errors.Wrap(association.ErrInvalidConfig, err.Error())
	}
	if c.Dedup.Window <= 0 {
		return errors.Wrapf(association.ErrInvalidConfig, "dedup window %s must be positive", c.Dedup.Window)
	}
	if c.Dedup.Radius < 0 {
		return errors.Wrapf(association.ErrInvalidConfig, "dedup radius %v must not be negative", c.Dedup.Radius)
	}
	switch c.Store.Driver {
	case store.DriverCSV, store.DriverSQLite:
	default:
		return errors.Wrapf(store.ErrUnknownDriver, "%q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return errors.Wrap(association.ErrInvalidConfig, "store path is required")
	}
	if c.Stream.FrameSkip < 1 {
		return errors.Wrapf(association.ErrInvalidConfig, "frame skip %d must be at least 1", c.Stream.FrameSkip)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(association.ErrInvalidConfig, "log level %q", c.Log.Level)
	}
	return nil
}

// Logger builds the root logger. Pretty selects the console writer.
func (l LogConfig) Logger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if l.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
