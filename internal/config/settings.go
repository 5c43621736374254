// Package config loads storagewatch settings from embedded defaults, an
// optional TOML file and command-line overrides, in that order.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/iomekam/dapp-inter/internal/config/tomlkeys"
	"github.com/iomekam/dapp-inter/internal/logging"
	"github.com/iomekam/dapp-inter/internal/vstorage"
)

//go:embed defaults.toml
var defaultsPayload []byte

type Settings struct {
	RPCAddr            string
	ChainID            string
	Namespace          string
	Interval           time.Duration
	CoalesceDelay      time.Duration
	RequestTimeout     time.Duration
	MaxRoundsPerSecond float64
	LogLevel           logging.Level
	Listen             string
	RPC                RPCSettings
	Telemetry          TelemetrySettings
	Watches            []vstorage.Path
}

// TelemetrySettings configures trace export over OTLP/HTTP.
type TelemetrySettings struct {
	Enabled            bool
	Endpoint           string
	ServiceName        string
	ResourceAttributes string
}

type RPCSettings struct {
	CAFile             string
	InsecureSkipVerify bool
	MaxResponseBytes   int64
}

// Defaults returns the embedded default settings.
func Defaults() (Settings, error) {
	return LoadSettings("", nil)
}

// LoadSettings layers the file at path (when non-empty) and then overrides
// onto the embedded defaults. Override keys use the file's key names, such
// as "rpc-addr" or "rpc.ca-file".
func LoadSettings(path string, overrides map[string]any) (Settings, error) {
	defaultsStore, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("decode defaults: %w", err)
	}
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		store, err := tomlkeys.Decode(payload)
		if err != nil {
			return Settings{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		for key, value := range store.Flat() {
			values[key] = value
		}
	}

	for key, value := range overrides {
		normalized := tomlkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	store := tomlkeys.FromRaw(values)
	settings := Settings{
		RPCAddr:   stringSetting(store, "rpc-addr"),
		ChainID:   stringSetting(store, "chain-id"),
		Namespace: stringSetting(store, "namespace"),
		Listen:    stringSetting(store, "listen"),
		RPC: RPCSettings{
			CAFile: stringSetting(store, "rpc.ca-file"),
		},
		Telemetry: TelemetrySettings{
			Endpoint:           stringSetting(store, "telemetry.endpoint"),
			ServiceName:        stringSetting(store, "telemetry.service-name"),
			ResourceAttributes: stringSetting(store, "telemetry.resource-attributes"),
		},
	}
	settings.Telemetry.Enabled, _ = store.GetBool("telemetry.enabled")
	settings.RPC.InsecureSkipVerify, _ = store.GetBool("rpc.insecure-skip-verify")
	settings.RPC.MaxResponseBytes, _ = store.GetInt("rpc.max-response-bytes")
	settings.MaxRoundsPerSecond, _ = store.GetFloat("max-rounds-per-second")

	var errs []error
	for key, target := range map[string]*time.Duration{
		"interval":        &settings.Interval,
		"coalesce-delay":  &settings.CoalesceDelay,
		"request-timeout": &settings.RequestTimeout,
	} {
		duration, _, err := store.GetDuration(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*target = duration
	}

	levelName := stringSetting(store, "log-level")
	level, ok := logging.ParseLevel(levelName)
	if !ok {
		errs = append(errs, fmt.Errorf("log-level: unknown level %q", levelName))
	}
	settings.LogLevel = level

	watches, err := watchSetting(store)
	if err != nil {
		errs = append(errs, err)
	}
	settings.Watches = watches

	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// AddWatches appends paths not already present.
func (s *Settings) AddWatches(paths ...vstorage.Path) {
	seen := make(map[vstorage.Path]struct{}, len(s.Watches))
	for _, path := range s.Watches {
		seen[path] = struct{}{}
	}
	for _, path := range paths {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		s.Watches = append(s.Watches, path)
	}
}

// Validate checks the settings needed to start a watcher.
func (s Settings) Validate() error {
	var errs []error
	if s.RPCAddr == "" {
		errs = append(errs, errors.New("rpc-addr is required"))
	} else if parsed, err := url.Parse(s.RPCAddr); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("rpc-addr %q must be an http or https URL", s.RPCAddr))
	}
	if strings.Contains(s.Namespace, "/") {
		errs = append(errs, fmt.Errorf("namespace %q must not contain /", s.Namespace))
	}
	if s.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if s.CoalesceDelay < 0 {
		errs = append(errs, errors.New("coalesce-delay must not be negative"))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request-timeout must be positive"))
	}
	if s.MaxRoundsPerSecond < 0 {
		errs = append(errs, errors.New("max-rounds-per-second must not be negative"))
	}
	if s.RPC.MaxResponseBytes < 0 {
		errs = append(errs, errors.New("rpc.max-response-bytes must not be negative"))
	}
	for _, path := range s.Watches {
		if err := path.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func stringSetting(store tomlkeys.Store, key string) string {
	value, _ := store.GetString(key)
	return strings.TrimSpace(value)
}

func watchSetting(store tomlkeys.Store) ([]vstorage.Path, error) {
	tables, ok := store.GetTables("watch")
	if !ok {
		return nil, nil
	}
	paths := make([]vstorage.Path, 0, len(tables))
	for index, table := range tables {
		name, _ := table["path"].(string)
		kindName, _ := table["kind"].(string)
		if strings.TrimSpace(kindName) == "" {
			kindName = "data"
		}
		kind, err := vstorage.ParseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("watch[%d]: %w", index, err)
		}
		path := vstorage.Path{Kind: kind, Name: strings.TrimSpace(name)}
		if err := path.Validate(); err != nil {
			return nil, fmt.Errorf("watch[%d]: %w", index, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
