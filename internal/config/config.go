package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/yaxxsin/taskhub/internal/taskhub"
)

type AISection struct {
	Provider       string `yaml:"provider"`
	Host           string `yaml:"host"`
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (a AISection) AIConfig() taskhub.AIConfig {
	return taskhub.AIConfig{
		Provider: a.Provider,
		Host:     a.Host,
		Endpoint: a.Endpoint,
		Model:    a.Model,
		APIKey:   a.APIKey,
		Timeout:  time.Duration(a.TimeoutSeconds) * time.Second,
	}
}

type CollabSection struct {
	OwnerURL            string `yaml:"owner_url"`
	ChannelURL          string `yaml:"channel_url"`
	Token               string `yaml:"token"`
	SyncIntervalSeconds int    `yaml:"sync_interval_seconds"`
	MaxReconnects       int    `yaml:"max_reconnects"`
	BackoffSeconds      int    `yaml:"backoff_seconds"`
}

func (c CollabSection) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c CollabSection) Backoff() time.Duration {
	if c.BackoffSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.BackoffSeconds) * time.Second
}

type Config struct {
	Listen    string        `yaml:"listen"`
	StateDSN  string        `yaml:"state_dsn"`
	OutboxDSN string        `yaml:"outbox_dsn"`
	JWTSecret string        `yaml:"jwt_secret"`
	UserID    string        `yaml:"user_id"`
	UserName  string        `yaml:"user_name"`
	AI        AISection     `yaml:"ai"`
	Collab    CollabSection `yaml:"collab"`
}

func Default() Config {
	return Config{
		Listen:   "127.0.0.1:8080",
		StateDSN: "file://taskhub-state.json",
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Watch reloads the file on change and hands the parsed config to onChange.
// Editors usually replace the file instead of writing in place, so the parent
// directory is watched and create/rename events for the path count as
// changes. Reload failures keep the previous config.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	go func() {
		defer func() { _ = watcher.Close() }()
		base := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Printf("config: reload of %s failed: %v", path, err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", err)
			}
		}
	}()
	return nil
}
