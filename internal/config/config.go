/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Secrets never appear here; API keys and tokens live in the OS keychain.

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	WorkspaceDir   string `yaml:"workspace_dir"`
	EnableServer   bool   `yaml:"enable_server"`
}

type SplitterConfig struct {
	MaxChars     int `yaml:"max_chars"`
	OverlapChars int `yaml:"overlap_chars"`
}

type LLMConfig struct {
	Brand         string  `yaml:"brand"`
	Model         string  `yaml:"model"`
	BaseURL       string  `yaml:"base_url"` // overrides the brand's api base
	Temperature   float64 `yaml:"temperature"`
	TimeoutSec    int     `yaml:"timeout_s"`
	Concurrency   int     `yaml:"concurrency"`
	MaxRetries    int     `yaml:"max_retries"`
	SkipTLSVerify bool    `yaml:"skip_tls_verify"`
	// CacheURL enables the reply cache; a redis:// URL shares it between machines.
	CacheURL      string `yaml:"cache_url"`
	CacheTTLHours int    `yaml:"cache_ttl_hours"`
}

type PromptConfig struct {
	Language         string `yaml:"language"` // bilingual | english | chinese
	IncludeTechnical bool   `yaml:"include_technical"`
}

type BackendConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	// PruneSchedule is the cron spec for backup pruning while serving.
	PruneSchedule string `yaml:"prune_schedule"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type ExportConfig struct {
	FontFile string `yaml:"font_file"`
	Preset   string `yaml:"preset"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int            `yaml:"config_version"`
	General       GeneralConfig  `yaml:"general"`
	Splitter      SplitterConfig `yaml:"splitter"`
	LLM           LLMConfig      `yaml:"llm"`
	Prompt        PromptConfig   `yaml:"prompt"`
	Backend       BackendConfig  `yaml:"backend"`
	Export        ExportConfig   `yaml:"export"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, EnableServer: false},
		Splitter:      SplitterConfig{MaxChars: 500, OverlapChars: 100},
		LLM:           LLMConfig{Brand: "Deepseek", Temperature: 0.7, TimeoutSec: 600, Concurrency: 1, MaxRetries: 2, CacheTTLHours: 168},
		Prompt:        PromptConfig{Language: "bilingual", IncludeTechnical: true},
		Backend:       BackendConfig{BaseURL: "http://localhost:8080", TimeoutMs: 15000, Addr: ":8080", PruneSchedule: "@daily"},
		Export:        ExportConfig{Preset: "print"},
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath       = "GSB_CONFIG"
	EnvWorkspace        = "GSB_WORKSPACE"
	EnvTelemetryOptIn   = "GSB_TELEMETRY_OPT_IN"
	EnvEnableServer     = "GSB_ENABLE_SERVER"
	EnvMaxChars         = "GSB_MAX_CHARS"
	EnvOverlapChars     = "GSB_OVERLAP_CHARS"
	EnvLLMBrand         = "GSB_LLM_BRAND"
	EnvLLMModel         = "GSB_LLM_MODEL"
	EnvLLMBaseURL       = "GSB_LLM_BASE_URL"
	EnvLLMAPIKey        = "GSB_LLM_API_KEY"
	EnvLLMTimeoutSec    = "GSB_LLM_TIMEOUT_S"
	EnvLLMConcurrency   = "GSB_LLM_CONCURRENCY"
	EnvLLMCacheURL      = "GSB_LLM_CACHE_URL"
	EnvPromptLanguage   = "GSB_PROMPT_LANGUAGE"
	EnvBackendURL       = "GSB_BACKEND_URL"
	EnvBackendTimeoutMs = "GSB_BACKEND_TIMEOUT_MS"
	EnvBackendTLSInsec  = "GSB_TLS_INSECURE"
	EnvBackendAddr      = "GSB_BACKEND_ADDR"
	EnvBackendToken     = "GSB_BACKEND_TOKEN"
	EnvDatabaseURL      = "GSB_DATABASE_URL"
	EnvJWTSecret        = "GSB_JWT_SECRET"
	EnvExportFont       = "GSB_EXPORT_FONT"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "GSB_LOG_LEVEL"
	EnvLogFormat = "GSB_LOG_FORMAT"
	EnvLogSource = "GSB_LOG_SOURCE"
	EnvLogFile   = "GSB_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "GoStoryboard"
	keyringToken   = "backend_token"
	keyringJWT     = "jwt_secret"
	keyringAPIKey  = "llm_api_key:"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// ConfigPath returns the per-user config file path. GSB_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "GoStoryboard")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "GoStoryboard")
	default: // linux and others
		if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
			base = filepath.Join(x, "gostoryboard")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "gostoryboard")
		}
	}
	if base == "" || base == "GoStoryboard" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// DefaultWorkspace is where projects live unless configured: <config dir>/projects.
func DefaultWorkspace() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "projects"), nil
}

// LoadDotEnv loads KEY=VALUE pairs from path (".env" when empty) into the process
// environment. Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// It also loads the backend token from keyring (not kept inside the struct; returned separately).
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// decode over the defaults so absent keys keep their default values
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), "", fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	normalize(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, BackendToken(), nil
}

// Save writes the user config YAML and persists the token into OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return err
		}
	}
	return nil
}

// APIKey returns the LLM API key for brand: GSB_LLM_API_KEY first, then the keychain.
// A missing key is reported as "" with no error; local servers need none.
func APIKey(brand string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvLLMAPIKey)); v != "" {
		return v, nil
	}
	v, err := tokenStore.Get(keyringService, keyringAPIKey+brand)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SetAPIKey stores the LLM API key for brand in the keychain; an empty key deletes it.
func SetAPIKey(brand, key string) error {
	if strings.TrimSpace(brand) == "" {
		return errors.New("brand is empty")
	}
	if key == "" {
		err := tokenStore.Delete(keyringService, keyringAPIKey+brand)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return tokenStore.Set(keyringService, keyringAPIKey+brand, key)
}

// BackendToken returns the bearer token for the shared backend, or "".
func BackendToken() string {
	if v := strings.TrimSpace(os.Getenv(EnvBackendToken)); v != "" {
		return v
	}
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return tok
}

// JWTSecret returns the signing secret for the API server: GSB_JWT_SECRET first, then the keychain.
func JWTSecret() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		return v, nil
	}
	v, err := tokenStore.Get(keyringService, keyringJWT)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", errors.New("no jwt secret configured")
	}
	return v, err
}

// SetJWTSecret stores the API server signing secret in the keychain.
func SetJWTSecret(secret string) error {
	return tokenStore.Set(keyringService, keyringJWT, secret)
}

func normalize(cfg *AppConfig) {
	lower := func(s *string) { *s = strings.ToLower(strings.TrimSpace(*s)) }
	lower(&cfg.Logging.Level)
	lower(&cfg.Logging.Format)
	lower(&cfg.Prompt.Language)
	lower(&cfg.Export.Preset)
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	cfg.LLM.Brand = strings.TrimSpace(cfg.LLM.Brand)
	cfg.LLM.Model = strings.TrimSpace(cfg.LLM.Model)
	if cfg.Splitter.MaxChars <= 0 {
		cfg.Splitter.MaxChars = Defaults().Splitter.MaxChars
	}
	if cfg.Splitter.OverlapChars < 0 {
		cfg.Splitter.OverlapChars = 0
	}
	if cfg.LLM.Concurrency < 1 {
		cfg.LLM.Concurrency = 1
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	str := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	num := func(env string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(env string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = parseBool(v)
		}
	}
	str(EnvWorkspace, &cfg.General.WorkspaceDir)
	flag(EnvTelemetryOptIn, &cfg.General.TelemetryOptIn)
	flag(EnvEnableServer, &cfg.General.EnableServer)
	num(EnvMaxChars, &cfg.Splitter.MaxChars)
	num(EnvOverlapChars, &cfg.Splitter.OverlapChars)
	str(EnvLLMBrand, &cfg.LLM.Brand)
	str(EnvLLMModel, &cfg.LLM.Model)
	str(EnvLLMBaseURL, &cfg.LLM.BaseURL)
	num(EnvLLMTimeoutSec, &cfg.LLM.TimeoutSec)
	num(EnvLLMConcurrency, &cfg.LLM.Concurrency)
	str(EnvLLMCacheURL, &cfg.LLM.CacheURL)
	str(EnvPromptLanguage, &cfg.Prompt.Language)
	cfg.Prompt.Language = strings.ToLower(cfg.Prompt.Language)
	str(EnvBackendURL, &cfg.Backend.BaseURL)
	num(EnvBackendTimeoutMs, &cfg.Backend.TimeoutMs)
	flag(EnvBackendTLSInsec, &cfg.Backend.TLSInsecure)
	str(EnvBackendAddr, &cfg.Backend.Addr)
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" && cfg.Backend.DatabaseURL == "" {
		cfg.Backend.DatabaseURL = v
	}
	str(EnvDatabaseURL, &cfg.Backend.DatabaseURL)
	str(EnvExportFont, &cfg.Export.FontFile)
	// logging overrides
	str(EnvLogLevel, &cfg.Logging.Level)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	str(EnvLogFormat, &cfg.Logging.Format)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	flag(EnvLogSource, &cfg.Logging.Source)
	str(EnvLogFile, &cfg.Logging.File)
}

var envKeys = map[string]string{
	"general.workspace_dir":    EnvWorkspace,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"general.enable_server":    EnvEnableServer,
	"splitter.max_chars":       EnvMaxChars,
	"splitter.overlap_chars":   EnvOverlapChars,
	"llm.brand":                EnvLLMBrand,
	"llm.model":                EnvLLMModel,
	"llm.base_url":             EnvLLMBaseURL,
	"llm.timeout_s":            EnvLLMTimeoutSec,
	"llm.concurrency":          EnvLLMConcurrency,
	"llm.cache_url":            EnvLLMCacheURL,
	"prompt.language":          EnvPromptLanguage,
	"backend.base_url":         EnvBackendURL,
	"backend.timeout_ms":       EnvBackendTimeoutMs,
	"backend.tls_insecure":     EnvBackendTLSInsec,
	"backend.addr":             EnvBackendAddr,
	"backend.database_url":     EnvDatabaseURL,
	"export.font_file":         EnvExportFont,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Timeout is the per-request model timeout.
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutSec <= 0 {
		return time.Duration(Defaults().LLM.TimeoutSec) * time.Second
	}
	return time.Duration(l.TimeoutSec) * time.Second
}

// CacheTTL is how long cached model replies are kept.
func (l LLMConfig) CacheTTL() time.Duration { return time.Duration(l.CacheTTLHours) * time.Hour }

// EffectiveTimeout returns the backend timeout for http.Client.
func (b BackendConfig) EffectiveTimeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
