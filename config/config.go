// Package config loads the PTZ control server settings
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/SridarDhandapani/onvif"
)

// Config holds all settings of the control server
type Config struct {
	Server  ServerConfig `yaml:"server"`
	Log     LogConfig    `yaml:"log"`
	PTZ     PTZConfig    `yaml:"ptz"`
	Cameras []Camera     `yaml:"cameras"`
}

// ServerConfig is the HTTP listener configuration
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// PTZConfig tunes controller behaviour shared by all cameras
type PTZConfig struct {
	StopDelay time.Duration `yaml:"stop_delay"` // run time of a move before the automatic Stop
	Timeout   time.Duration `yaml:"timeout"`    // per-request timeout
}

// Camera is one controllable device
type Camera struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	RTSPURL  string `yaml:"rtsp_url"`
}

// Address converts the camera entry to the client's device address
func (c Camera) Address() onvif.DeviceAddress {
	return onvif.DeviceAddress{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
	}
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8080"},
		Log:    LogConfig{Level: "info"},
		PTZ: PTZConfig{
			StopDelay: onvif.DefaultStopDelay,
			Timeout:   onvif.DefaultTimeout,
		},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Annotatef(err, "parse config %s", path)
		}
	}

	cfg.Server.Listen = getEnvOrDefault("PTZ_LISTEN", cfg.Server.Listen)
	cfg.Log.Level = getEnvOrDefault("PTZ_LOG_LEVEL", cfg.Log.Level)
	cfg.PTZ.StopDelay = getEnvAsDurationOrDefault("PTZ_STOP_DELAY", cfg.PTZ.StopDelay)

	for i := range cfg.Cameras {
		if cfg.Cameras[i].Port == 0 {
			cfg.Cameras[i].Port = 80
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid config")
	}
	return cfg, nil
}

// Validate checks the settings for consistency
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return errors.NotValidf("listen address %q", c.Server.Listen)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.NotValidf("log level %q", c.Log.Level)
	}
	if c.PTZ.StopDelay <= 0 {
		return errors.NotValidf("stop delay %s", c.PTZ.StopDelay)
	}
	if c.PTZ.Timeout < 0 {
		return errors.NotValidf("timeout %s", c.PTZ.Timeout)
	}

	names := make(map[string]bool)
	for i, cam := range c.Cameras {
		if cam.Name == "" {
			return errors.NotValidf("camera #%d without name", i+1)
		}
		if names[cam.Name] {
			return errors.AlreadyExistsf("camera %q", cam.Name)
		}
		names[cam.Name] = true
		if cam.Host == "" {
			return errors.NotValidf("camera %q without host", cam.Name)
		}
		if cam.Port < 1 || cam.Port > 65535 {
			return errors.NotValidf("camera %q port %d", cam.Name, cam.Port)
		}
	}
	return nil
}

// Camera returns the camera entry with the given name
func (c *Config) Camera(name string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	return Camera{}, false
}

// Logger builds the root logger described by the log section
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func (c Camera) String() string {
	return fmt.Sprintf("%s (%s:%d)", c.Name, c.Host, c.Port)
}

// getEnvOrDefault returns the environment variable or the default when unset
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
