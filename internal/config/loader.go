package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	appName   = "goharvest"
	envPrefix = "GOHARVEST"
)

// AppIdentity names the application for config discovery.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// EnvSpec maps one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

// envBindings are the supported variables, without prefix.
var envBindings = map[string]string{
	"HOST":             "server.host",
	"PORT":             "server.port",
	"READ_TIMEOUT":     "server.read_timeout",
	"WRITE_TIMEOUT":    "server.write_timeout",
	"IDLE_TIMEOUT":     "server.idle_timeout",
	"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",

	"LOG_LEVEL":   "logging.level",
	"LOG_PROFILE": "logging.profile",
	"LOG_FILE":    "logging.file",

	"MAX_CONCURRENT_JOBS": "engine.max_concurrent_jobs",
	"EXTRACT_RATE_LIMIT":  "engine.extract_rate_limit",
	"WRITE_ATTEMPTS":      "engine.write_attempts",
	"RETRY_DELAY":         "engine.retry_delay",
	"MAX_CONTENT_BYTES":   "engine.max_content_bytes",
	"SCRATCH_DIR":         "engine.scratch_dir",

	"SINK_DRIVER": "sink.driver",
	"SINK_PATH":   "sink.path",

	"RETENTION_TTL":   "retention.ttl",
	"SWEEP_INTERVAL":  "retention.sweep_interval",
	"ARCHIVE_DIR":     "retention.archive_dir",
	"EXTRACT_TIMEOUT": "extract.timeout",
	"MAX_FILE_BYTES":  "extract.max_file_bytes",

	"S3_REGION":            "storage.s3.region",
	"S3_ENDPOINT":          "storage.s3.endpoint",
	"S3_PROFILE":           "storage.s3.profile",
	"S3_ACCESS_KEY_ID":     "storage.s3.access_key_id",
	"S3_SECRET_ACCESS_KEY": "storage.s3.secret_access_key",
	"S3_FORCE_PATH_STYLE":  "storage.s3.force_path_style",
}

// SetConfigFile pins an explicit config file for subsequent loads. An empty
// path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration and makes it the current one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		appIdentity = &AppIdentity{BinaryName: appName, EnvPrefix: envPrefix, ConfigName: appName}
	}
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	file, err := resolveConfigFile(explicit)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Sink.Path == "" && !strings.EqualFold(cfg.Sink.Driver, SinkDiscard) {
		cfg.Sink.Path = DefaultSinkPath(cfg.Sink.Driver)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("engine.max_concurrent_jobs", 4)
	v.SetDefault("engine.extract_rate_limit", 0)
	v.SetDefault("engine.write_attempts", 3)
	v.SetDefault("engine.retry_delay", "200ms")
	v.SetDefault("engine.max_content_bytes", 1<<20)

	v.SetDefault("sink.driver", SinkBadger)

	v.SetDefault("retention.ttl", "0s")
	v.SetDefault("retention.sweep_interval", "1m")

	v.SetDefault("extract.timeout", "2m")
	v.SetDefault("extract.max_file_bytes", 50<<20)
}

func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}

	specs := make([]EnvSpec, 0, len(envBindings))
	for suffix, path := range envBindings {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + "_" + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// getUserConfigPaths lists candidate user-level config files.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, id.ConfigName, id.ConfigName+".yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", id.ConfigName, id.ConfigName+".yaml"))
	}
	return paths
}

func resolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}

	var candidates []string
	if root, err := findProjectRoot(); err == nil {
		candidates = append(candidates, filepath.Join(root, appName+".yaml"))
	}
	candidates = append(candidates, getUserConfigPaths()...)

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", nil
}

// findProjectRoot walks up from the working directory to the nearest
// directory holding go.mod or .git. In CI the walk stops at the workspace
// boundary when one is advertised.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	boundary := ciBoundary(cwd)

	dir := cwd
	for {
		if hasMarker(dir) {
			return dir, nil
		}
		if boundary != "" && dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if boundary != "" {
		return boundary, nil
	}
	return cwd, nil
}

func hasMarker(dir string) bool {
	for _, marker := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// ciBoundary returns the advertised CI workspace root when it is absolute,
// exists, and contains cwd. Otherwise "".
func ciBoundary(cwd string) string {
	if os.Getenv("CI") != "true" && os.Getenv("GITHUB_ACTIONS") != "true" {
		return ""
	}
	for _, key := range []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
		candidate := os.Getenv(key)
		if candidate == "" || !filepath.IsAbs(candidate) {
			continue
		}
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		candidate = filepath.Clean(candidate)
		rel, err := filepath.Rel(candidate, cwd)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return candidate
	}
	return ""
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// ErrNoConfig is returned by Current before the first Load.
var ErrNoConfig = errors.New("config not loaded")

// Current returns the loaded config or ErrNoConfig.
func Current() (*Config, error) {
	if cfg := GetConfig(); cfg != nil {
		return cfg, nil
	}
	return nil, ErrNoConfig
}
