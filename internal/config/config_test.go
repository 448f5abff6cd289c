package config

import (
	"testing"
	"time"

	"github.com/spetr/localrouter/pkg/types"
)

func TestValidateMode(t *testing.T) {
	tests := []struct {
		mode    string
		wantErr bool
	}{
		{"auto", false},
		{"ollama", false},
		{"lmstudio", false},
		{"jan", false},
		{"gpt4all", false},
		{"pyscript", false},
		{"invalid", true},
		{"Ollama", true}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = tt.mode
			errs := Validate(cfg)

			hasErr := len(errs) > 0
			if hasErr != tt.wantErr {
				t.Errorf("Validate(Mode=%q) hasErr=%v, want %v", tt.mode, hasErr, tt.wantErr)
			}
		})
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["mystery"] = ProviderConfig{Endpoint: "http://localhost:9999"}

	if errs := Validate(cfg); len(errs) == 0 {
		t.Error("Validate() = no errors, want error for unknown provider")
	}
}

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		wantErr  bool
	}{
		{"http://localhost:11434", false},
		{"https://10.0.0.5:1234/v1", false},
		{"", false}, // filled from registry defaults on load
		{"localhost:11434", true},
		{"http://", true},
		{"://nope", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := DefaultConfig()
			pc := cfg.Provider(types.KindOllama)
			pc.Endpoint = tt.endpoint
			cfg.SetProvider(types.KindOllama, pc)
			errs := Validate(cfg)

			hasErr := len(errs) > 0
			if hasErr != tt.wantErr {
				t.Errorf("Validate(Endpoint=%q) hasErr=%v, want %v", tt.endpoint, hasErr, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfigProviders(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mode != "auto" {
		t.Errorf("Mode = %q, want auto", cfg.Mode)
	}
	if len(cfg.Providers) != 5 {
		t.Errorf("Providers has %d entries, want 5", len(cfg.Providers))
	}
	if got := cfg.Provider(types.KindOllama).Endpoint; got != "http://localhost:11434" {
		t.Errorf("ollama endpoint = %q", got)
	}
	if got := cfg.Provider(types.KindLMStudio).Endpoint; got != "http://localhost:1234/v1" {
		t.Errorf("lmstudio endpoint = %q", got)
	}
	if got := cfg.Provider(types.KindPyScript).Python; got != "python3" {
		t.Errorf("pyscript python = %q", got)
	}
	if cfg.Probe.Timeout != 1*time.Second {
		t.Errorf("Probe.Timeout = %v, want 1s", cfg.Probe.Timeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, warnings, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(warnings) == 0 {
		t.Error("Load() expected a warning about missing config")
	}
	if cfg.Mode != "auto" {
		t.Errorf("Mode = %q, want defaults", cfg.Mode)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Mode = "lmstudio"
	cfg.SetProvider(types.KindJan, ProviderConfig{
		Endpoint: "http://127.0.0.1:1337/v1",
		Model:    "mistral-7b",
	})
	cfg.Probe.Timeout = 2 * time.Second

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Mode != "lmstudio" {
		t.Errorf("Mode = %q, want lmstudio", loaded.Mode)
	}
	if got := loaded.Provider(types.KindJan); got.Endpoint != "http://127.0.0.1:1337/v1" || got.Model != "mistral-7b" {
		t.Errorf("jan provider = %+v", got)
	}
	if loaded.Probe.Timeout != 2*time.Second {
		t.Errorf("Probe.Timeout = %v, want 2s", loaded.Probe.Timeout)
	}
	// partial config still gets defaults filled in
	if got := loaded.Provider(types.KindGPT4All).Endpoint; got != "http://localhost:4891/v1" {
		t.Errorf("gpt4all endpoint = %q, want default restored", got)
	}
}

func TestCopyIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cp := cfg.Copy()

	cp.SetProvider(types.KindOllama, ProviderConfig{Endpoint: "http://other:11434"})
	if cfg.Provider(types.KindOllama).Endpoint == "http://other:11434" {
		t.Error("Copy() shares the providers map with the original")
	}
}
