package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != "8080" {
		t.Fatalf("APIPort = %q, want 8080", cfg.APIPort)
	}
	if cfg.ChunkSize != 1500 || cfg.ChunkOverlap != 200 {
		t.Fatalf("chunking = %d/%d, want 1500/200", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.QuarantineAfter != 3 {
		t.Fatalf("QuarantineAfter = %d, want 3", cfg.QuarantineAfter)
	}
	if !cfg.OCREnabled || cfg.OCRLanguages != "ita+eng" {
		t.Fatalf("ocr config = %v/%q", cfg.OCREnabled, cfg.OCRLanguages)
	}
	if cfg.ConvertTimeoutSeconds != 120 {
		t.Fatalf("ConvertTimeoutSeconds = %d, want 120", cfg.ConvertTimeoutSeconds)
	}
}

func TestLoadConvertTimeoutOverride(t *testing.T) {
	t.Setenv("CONVERT_TIMEOUT_SECONDS", "45")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConvertTimeoutSeconds != 45 {
		t.Fatalf("ConvertTimeoutSeconds = %d, want 45", cfg.ConvertTimeoutSeconds)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "kb.yaml")
	content := "API_PORT: \"9999\"\nCHUNK_SIZE: 800\nOCR_ENABLED: false\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("KB_CONFIG_FILE", file)
	t.Setenv("API_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != "7070" {
		t.Fatalf("APIPort = %q, env must win over file", cfg.APIPort)
	}
	if cfg.ChunkSize != 800 {
		t.Fatalf("ChunkSize = %d, file value must beat default", cfg.ChunkSize)
	}
	if cfg.OCREnabled {
		t.Fatal("OCREnabled must come from file")
	}
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	t.Setenv("KB_CONFIG_FILE", "/nonexistent/kb.yaml")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "many")
	t.Setenv("SEARCH_RATE_LIMIT_RPS", "fast")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ChunkSize != 1500 {
		t.Fatalf("ChunkSize = %d, want default on parse failure", cfg.ChunkSize)
	}
	if cfg.SearchRateLimitRPS != 10 {
		t.Fatalf("SearchRateLimitRPS = %v, want default on parse failure", cfg.SearchRateLimitRPS)
	}
}
