package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/teslashibe/go-franka/internal/log"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "FRANKA_"

	maxConfigFileSize = 1024 * 1024 // 1MB

	// reloadDebounce collapses the burst of events editors emit on save.
	reloadDebounce = 100 * time.Millisecond
)

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply. A missing file is an error.
//
// Environment variables map onto sections at the first underscore after the
// prefix:
//
//	FRANKA_TRANSPORT_URL     -> transport.url
//	FRANKA_CONTROL_MAX_FORCE -> control.max_force
//	FRANKA_SEARCH_EXIT_FORCE -> search.exit_force
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	// Lists replace the defaults instead of merging element-wise.
	if k.Exists("home.pose") {
		cfg.Home.Pose = nil
	}
	if k.Exists("home.joints") {
		cfg.Home.Joints = nil
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps FRANKA_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// Watch reloads path whenever it changes and passes every valid
// configuration to fn. Invalid files are logged and skipped. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, path string, logger *zap.Logger, fn func(*Config)) error {
	if path == "" {
		return errors.New("watch requires a config file path")
	}
	logger = log.Or(logger).Named("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory; editors often replace the file instead of
	// writing it in place.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}

		case <-debounce:
			debounce = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload rejected", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", path))
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
