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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

// isolate points the config file at a temp dir and swaps the keychain for an in-memory mock.
func isolate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(EnvConfigPath, path)
	for _, env := range envKeys {
		t.Setenv(env, "")
	}
	t.Setenv("DATABASE_URL", "")
	t.Setenv(EnvLLMAPIKey, "")
	t.Setenv(EnvBackendToken, "")
	t.Setenv(EnvJWTSecret, "")
	keyring.MockInit()
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)
	cfg, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tok != "" {
		t.Fatalf("token = %q, want empty", tok)
	}
	if cfg.Splitter.MaxChars != 500 || cfg.Splitter.OverlapChars != 100 {
		t.Fatalf("splitter defaults: %#v", cfg.Splitter)
	}
	if cfg.LLM.Timeout() != 600*time.Second || cfg.LLM.Temperature != 0.7 {
		t.Fatalf("llm defaults: %#v", cfg.LLM)
	}
	if cfg.Prompt.Language != "bilingual" || !cfg.Prompt.IncludeTechnical {
		t.Fatalf("prompt defaults: %#v", cfg.Prompt)
	}
}

func TestEnvOverridesBackendURL(t *testing.T) {
	isolate(t)
	t.Setenv(EnvBackendURL, "https://example.test:8443")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.Backend.BaseURL, "https://example.test:8443"; got != want {
		t.Fatalf("Backend.BaseURL = %q, want %q", got, want)
	}
}

func TestEnvOverridesTelemetry(t *testing.T) {
	isolate(t)
	t.Setenv(EnvTelemetryOptIn, "true")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.General.TelemetryOptIn {
		t.Fatalf("General.TelemetryOptIn expected true from env override")
	}
}

func TestFileKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := isolate(t)
	yml := "general:\n  enable_server: true\nsplitter:\n  max_chars: 800\nprompt:\n  language: English\nlogging:\n  level: DEBUG\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.General.EnableServer || cfg.Splitter.MaxChars != 800 {
		t.Fatalf("file values not applied: %#v", cfg)
	}
	if cfg.Splitter.OverlapChars != 100 || !cfg.Prompt.IncludeTechnical {
		t.Fatalf("absent keys lost their defaults: %#v", cfg)
	}
	if cfg.Prompt.Language != "english" || cfg.Logging.Level != "debug" {
		t.Fatalf("values not normalized: %q %q", cfg.Prompt.Language, cfg.Logging.Level)
	}
}

func TestZeroTemperatureSurvivesLoad(t *testing.T) {
	path := isolate(t)
	if err := os.WriteFile(path, []byte("llm:\n  temperature: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LLM.Temperature != 0 {
		t.Fatalf("explicit zero temperature replaced with %v", cfg.LLM.Temperature)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := isolate(t)
	if err := os.WriteFile(path, []byte("splitter: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNormalizeClampsSplitter(t *testing.T) {
	cfg := Defaults()
	cfg.Splitter.MaxChars = 0
	cfg.Splitter.OverlapChars = -5
	cfg.LLM.Concurrency = 0
	normalize(&cfg)
	if cfg.Splitter.MaxChars != 500 || cfg.Splitter.OverlapChars != 0 || cfg.LLM.Concurrency != 1 {
		t.Fatalf("normalize: %#v %#v", cfg.Splitter, cfg.LLM)
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	isolate(t)
	t.Setenv(EnvLogLevel, "ERROR")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "X:/gsb.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "X:/gsb.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
}

func TestEnvOverridesLLM(t *testing.T) {
	isolate(t)
	t.Setenv(EnvLLMBrand, "LM Studio")
	t.Setenv(EnvLLMModel, "qwen2.5-7b")
	t.Setenv(EnvLLMConcurrency, "4")
	t.Setenv(EnvLLMTimeoutSec, "30")
	t.Setenv(EnvMaxChars, "notanumber")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LLM.Brand != "LM Studio" || cfg.LLM.Model != "qwen2.5-7b" || cfg.LLM.Concurrency != 4 {
		t.Fatalf("llm overrides: %#v", cfg.LLM)
	}
	if cfg.LLM.Timeout() != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.LLM.Timeout())
	}
	if cfg.Splitter.MaxChars != 500 {
		t.Fatalf("invalid number should be ignored, got %d", cfg.Splitter.MaxChars)
	}
}

func TestDatabaseURLPrecedence(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://fallback")
	cfg, _, _ := Load()
	if cfg.Backend.DatabaseURL != "postgres://fallback" {
		t.Fatalf("DATABASE_URL not used: %q", cfg.Backend.DatabaseURL)
	}
	t.Setenv(EnvDatabaseURL, "postgres://primary")
	cfg, _, _ = Load()
	if cfg.Backend.DatabaseURL != "postgres://primary" {
		t.Fatalf("GSB_DATABASE_URL should win: %q", cfg.Backend.DatabaseURL)
	}
}

func TestEnvOverrideFor(t *testing.T) {
	isolate(t)
	if _, ok := EnvOverrideFor("llm.model"); ok {
		t.Fatal("no override expected")
	}
	t.Setenv(EnvLLMModel, "x")
	if env, ok := EnvOverrideFor("llm.model"); !ok || env != EnvLLMModel {
		t.Fatalf("got %q %v", env, ok)
	}
	if _, ok := EnvOverrideFor("nope"); ok {
		t.Fatal("unknown key")
	}
}

func TestSaveRoundTripKeepsSecretsOutOfYAML(t *testing.T) {
	path := isolate(t)
	cfg := Defaults()
	cfg.LLM.Model = "deepseek-chat"
	if err := Save(cfg, "tok-123"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "tok-123") {
		t.Fatal("token leaked into YAML")
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LLM.Model != "deepseek-chat" || tok != "tok-123" {
		t.Fatalf("round trip: %q %q", got.LLM.Model, tok)
	}
}

func TestAPIKeyKeychainAndEnv(t *testing.T) {
	isolate(t)
	if k, err := APIKey("Deepseek"); err != nil || k != "" {
		t.Fatalf("missing key: %q %v", k, err)
	}
	if err := SetAPIKey("Deepseek", "sk-1"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	if k, _ := APIKey("Deepseek"); k != "sk-1" {
		t.Fatalf("keychain key = %q", k)
	}
	if k, _ := APIKey("OpenAI"); k != "" {
		t.Fatalf("keys are per brand, got %q", k)
	}
	t.Setenv(EnvLLMAPIKey, "sk-env")
	if k, _ := APIKey("Deepseek"); k != "sk-env" {
		t.Fatalf("env should win, got %q", k)
	}
	t.Setenv(EnvLLMAPIKey, "")
	if err := SetAPIKey("Deepseek", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if k, _ := APIKey("Deepseek"); k != "" {
		t.Fatalf("deleted key = %q", k)
	}
	if err := SetAPIKey("Deepseek", ""); err != nil {
		t.Fatalf("deleting a missing key: %v", err)
	}
}

func TestJWTSecret(t *testing.T) {
	isolate(t)
	if _, err := JWTSecret(); err == nil {
		t.Fatal("expected error without secret")
	}
	if err := SetJWTSecret("s3cret"); err != nil {
		t.Fatal(err)
	}
	if s, err := JWTSecret(); err != nil || s != "s3cret" {
		t.Fatalf("got %q %v", s, err)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	if err := os.WriteFile(env, []byte("GSB_LLM_MODEL=from-file\nGSB_LLM_BRAND=OpenAI\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvLLMModel, "from-env")
	t.Setenv(EnvLLMBrand, "")
	os.Unsetenv(EnvLLMBrand)
	if err := LoadDotEnv(env); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if os.Getenv(EnvLLMModel) != "from-env" {
		t.Fatal("existing env must win")
	}
	if os.Getenv(EnvLLMBrand) != "OpenAI" {
		t.Fatal("unset var should come from the file")
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
