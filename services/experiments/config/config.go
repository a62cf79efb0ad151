// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the server configuration from YAML with
// environment overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the expd server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Registry  RegistryConfig  `yaml:"registry"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" validate:"required"`

	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type RegistryConfig struct {
	// DefinitionsFile is the YAML experiment catalog. Watched for
	// changes when Watch is true.
	DefinitionsFile string `yaml:"definitionsFile" validate:"required"`
	Watch           bool   `yaml:"watch"`
}

type StorageConfig struct {
	// Path is the badger directory for sticky assignments. Empty means
	// in-memory only.
	Path string `yaml:"path"`
}

type EventsConfig struct {
	// DBPath is the SQLite database for the event store.
	DBPath string `yaml:"dbPath" validate:"required"`

	// IngestRate caps accepted events per second on the ingest route;
	// IngestBurst is the momentary allowance. Zero disables the cap.
	IngestRate  float64 `yaml:"ingestRate"`
	IngestBurst int     `yaml:"ingestBurst"`
}

type AnalyticsConfig struct {
	// Influx forwards events to InfluxDB when URL is set.
	Influx InfluxConfig `yaml:"influx"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// Dir, when set, is a directory that receives dated JSON log files
	// in addition to stderr.
	Dir string `yaml:"dir"`

	// Trace enables the stdout span exporter.
	Trace bool `yaml:"trace"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Registry: RegistryConfig{
			DefinitionsFile: "experiments.yaml",
			Watch:           true,
		},
		Storage: StorageConfig{
			Path: "data/assignments",
		},
		Events: EventsConfig{
			DBPath:      "data/events.db",
			IngestRate:  200,
			IngestBurst: 400,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path yields the defaults (plus
// overrides).
//
// Environment overrides: EXPD_ADDR, EXPD_DEFINITIONS_FILE,
// EXPD_STORAGE_PATH, EXPD_EVENTS_DB, EXPD_INFLUX_URL, EXPD_INFLUX_TOKEN,
// EXPD_INFLUX_ORG, EXPD_INFLUX_BUCKET, EXPD_LOG_LEVEL.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override(&cfg.Server.Addr, "EXPD_ADDR")
	override(&cfg.Registry.DefinitionsFile, "EXPD_DEFINITIONS_FILE")
	override(&cfg.Storage.Path, "EXPD_STORAGE_PATH")
	override(&cfg.Events.DBPath, "EXPD_EVENTS_DB")
	override(&cfg.Analytics.Influx.URL, "EXPD_INFLUX_URL")
	override(&cfg.Analytics.Influx.Token, "EXPD_INFLUX_TOKEN")
	override(&cfg.Analytics.Influx.Org, "EXPD_INFLUX_ORG")
	override(&cfg.Analytics.Influx.Bucket, "EXPD_INFLUX_BUCKET")
	override(&cfg.Logging.Level, "EXPD_LOG_LEVEL")
	override(&cfg.Logging.Dir, "EXPD_LOG_DIR")
}

func override(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*target = value
	}
}
