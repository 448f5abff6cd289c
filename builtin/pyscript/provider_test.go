package pyscript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spetr/localrouter/pkg/types"
)

// fakeInterpreter writes an executable shell script standing in for the
// Python binary and returns its path.
func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python3")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake interpreter: %v", err)
	}
	return path
}

func TestGenerate(t *testing.T) {
	python := fakeInterpreter(t, `printf 'generated text\n'`)

	p := New(Config{Python: python, ModelPath: "/models/orca-mini.gguf"})

	got, err := p.Generate(context.Background(), types.GenerateRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "generated text" {
		t.Errorf("Generate() = %q, want trailing newline trimmed", got)
	}
}

func TestGenerateScriptContents(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "script.py")
	python := fakeInterpreter(t, `cp "$1" `+capture)

	p := New(Config{Python: python, ModelPath: "/models/orca-mini.gguf"})

	_, err := p.Generate(context.Background(), types.GenerateRequest{
		Prompt:      "say \"hi\"",
		System:      "be nice",
		Temperature: 0.7,
		MaxTokens:   128,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	data, err := os.ReadFile(capture)
	if err != nil {
		t.Fatalf("read captured script: %v", err)
	}
	script := string(data)

	for _, want := range []string{
		"from gpt4all import GPT4All",
		`model_name="orca-mini.gguf"`,
		`model_path="/models"`,
		"allow_download=False",
		`"be nice\n\nsay \"hi\""`,
		"max_tokens=128",
		"temp=0.7",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func TestGenerateRemovesScript(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "path.txt")
	python := fakeInterpreter(t, `printf '%s' "$1" > `+capture)

	p := New(Config{Python: python, ModelPath: "/models/m.gguf"})
	if _, err := p.Generate(context.Background(), types.GenerateRequest{Prompt: "x"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	data, err := os.ReadFile(capture)
	if err != nil {
		t.Fatalf("read captured path: %v", err)
	}
	if _, err := os.Stat(string(data)); !os.IsNotExist(err) {
		t.Errorf("script file %q still exists after run", string(data))
	}
}

func TestGenerateExecError(t *testing.T) {
	python := fakeInterpreter(t, `printf 'Traceback: model file not found\n' >&2; exit 1`)

	p := New(Config{Python: python, ModelPath: "/models/missing.gguf"})

	_, err := p.Generate(context.Background(), types.GenerateRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("Generate() expected error on non-zero exit")
	}
	if !errors.Is(err, types.ErrExecutionFailed) {
		t.Errorf("error = %v, want ErrExecutionFailed", err)
	}
	var execErr *types.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *types.ExecError", err)
	}
	if execErr.Stderr != "Traceback: model file not found\n" {
		t.Errorf("Stderr = %q, want subprocess stderr verbatim", execErr.Stderr)
	}
}

func TestGenerateScriptNotConfigured(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	python := fakeInterpreter(t, `touch `+marker)

	p := New(Config{Python: python})

	_, err := p.Generate(context.Background(), types.GenerateRequest{Prompt: "x"})
	if !errors.Is(err, types.ErrScriptNotConfigured) {
		t.Fatalf("error = %v, want ErrScriptNotConfigured", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("interpreter was spawned despite missing model path")
	}
}

func TestGenerateContextCancel(t *testing.T) {
	python := fakeInterpreter(t, `sleep 10`)

	p := New(Config{Python: python, ModelPath: "/models/m.gguf"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Generate(ctx, types.GenerateRequest{Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Generate() did not return promptly after cancellation")
	}
}

func TestEmbedUnsupported(t *testing.T) {
	p := New(Config{ModelPath: "/models/m.gguf"})

	if _, err := p.Embed(context.Background(), "text"); !errors.Is(err, types.ErrUnsupportedOperation) {
		t.Errorf("Embed() error = %v, want ErrUnsupportedOperation", err)
	}
}

func TestProbe(t *testing.T) {
	python := fakeInterpreter(t, `exit 0`)

	p := New(Config{Python: python})
	if result := p.Probe(context.Background()); !result.Reachable {
		t.Error("Probe() Reachable = false, want true when the import succeeds")
	}
}

func TestConfiguredModule(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args.txt")
	python := fakeInterpreter(t, `printf '%s' "$2" > `+capture+`
case "$1" in /*) cp "$1" `+capture+` ;; esac`)

	p := New(Config{Python: python, Module: "nomic_bindings", ModelPath: "/models/m.gguf"})

	if result := p.Probe(context.Background()); !result.Reachable {
		t.Fatal("Probe() Reachable = false")
	}
	data, err := os.ReadFile(capture)
	if err != nil {
		t.Fatalf("read captured args: %v", err)
	}
	if got := string(data); got != "import nomic_bindings" {
		t.Errorf("probe import = %q, want the configured module", got)
	}

	if _, err := p.Generate(context.Background(), types.GenerateRequest{Prompt: "x"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	data, err = os.ReadFile(capture)
	if err != nil {
		t.Fatalf("read captured script: %v", err)
	}
	if !strings.Contains(string(data), "from nomic_bindings import GPT4All") {
		t.Errorf("script does not import the configured module:\n%s", string(data))
	}
}

func TestProbeImportFails(t *testing.T) {
	python := fakeInterpreter(t, `printf 'ModuleNotFoundError\n' >&2; exit 1`)

	p := New(Config{Python: python})
	if result := p.Probe(context.Background()); result.Reachable {
		t.Error("Probe() Reachable = true, want false when the import fails")
	}
}

func TestProbeMissingInterpreter(t *testing.T) {
	p := New(Config{Python: filepath.Join(t.TempDir(), "no-such-python")})
	if result := p.Probe(context.Background()); result.Reachable {
		t.Error("Probe() Reachable = true, want false when the interpreter is absent")
	}
}
