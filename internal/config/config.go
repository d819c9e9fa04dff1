// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the feverscreen configuration.
//
// The configuration is read from a JSON file, then overridden by
// environment variables prefixed with FEVERSCREEN_, e.g.
// FEVERSCREEN_CAMERA_PASSWORD.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration file.
const EnvPrefix = "FEVERSCREEN"

// Camera is the connection to the camera management interface.
type Camera struct {
	URL      string `mapstructure:"url" validate:"required,url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Scan configures the acquisition loop.
type Scan struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	FFCCooldown time.Duration `mapstructure:"ffccooldown" validate:"gte=0"`
}

// HTTP configures the operator web server.
type HTTP struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File  string `mapstructure:"file"`
}

// Config is the whole configuration.
type Config struct {
	Camera Camera `mapstructure:"camera"`
	Scan   Scan   `mapstructure:"scan"`
	HTTP   HTTP   `mapstructure:"http"`
	Log    Log    `mapstructure:"log"`
}

// DefaultPath returns ~/.config/feverscreen/feverscreen.json.
func DefaultPath() (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(usr.HomeDir, ".config", "feverscreen", "feverscreen.json"), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	if err := newViper().Unmarshal(c); err != nil {
		panic(err)
	}
	return c
}

// Load reads the configuration at path. A missing file is not an error.
//
// The result is not validated; call Validate once all overrides are
// applied.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
		}
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// Validate returns an error describing the first invalid fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Write writes the configuration as normalized JSON at path, creating the
// directory if needed. The file is only readable by the user since it
// contains credentials.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigPermissions(0o600)
	v.Set("camera.url", c.Camera.URL)
	v.Set("camera.username", c.Camera.Username)
	v.Set("camera.password", c.Camera.Password)
	v.Set("scan.interval", c.Scan.Interval.String())
	v.Set("scan.ffccooldown", c.Scan.FFCCooldown.String())
	v.Set("http.port", c.HTTP.Port)
	v.Set("log.level", c.Log.Level)
	v.Set("log.file", c.Log.File)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("camera.url", "")
	// Factory credentials of the camera.
	v.SetDefault("camera.username", "admin")
	v.SetDefault("camera.password", "feathers")
	v.SetDefault("scan.interval", "500ms")
	v.SetDefault("scan.ffccooldown", "60s")
	v.SetDefault("http.port", 8010)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
