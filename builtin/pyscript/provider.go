// Package pyscript implements the backend Provider by generating a small
// Python script around the gpt4all bindings and running it as a
// subprocess per request.
package pyscript

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

// Default values
const (
	DefaultPython  = "python3"
	DefaultModule  = "gpt4all"
	DefaultTimeout = 300 * time.Second
)

// Config contains pyscript provider configuration.
type Config struct {
	Python    string // interpreter executable
	Module    string // bindings module; must expose a GPT4All class
	ModelPath string // path to the local model file
	Timeout   time.Duration
}

// Provider implements the Provider interface by spawning an interpreter.
type Provider struct {
	config Config
}

// New creates a new pyscript provider.
func New(cfg Config) *Provider {
	if cfg.Python == "" {
		cfg.Python = DefaultPython
	}
	if cfg.Module == "" {
		cfg.Module = DefaultModule
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Provider{config: cfg}
}

// Kind returns the backend kind.
func (p *Provider) Kind() types.Kind {
	return types.KindPyScript
}

// Generate writes a one-shot script to a temp file, runs the interpreter
// and returns its trimmed stdout. A non-zero exit surfaces the subprocess
// stderr verbatim.
func (p *Provider) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	if p.config.ModelPath == "" {
		return "", types.ErrScriptNotConfigured
	}

	script := buildScript(p.config.Module, p.config.ModelPath, req)

	tmp, err := os.CreateTemp("", "localrouter-*.py")
	if err != nil {
		return "", fmt.Errorf("create script file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.WriteString(script); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write script file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close script file: %w", err)
	}

	stdout, stderr, err := p.run(ctx, p.config.Python, path)
	if err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			return "", &types.ExecError{Stderr: stderr}
		}
		return "", fmt.Errorf("run interpreter: %w", err)
	}
	return strings.TrimSpace(stdout), nil
}

// Embed is not supported by this backend.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, types.ErrUnsupportedOperation
}

// Probe checks that the interpreter can import the bindings module.
func (p *Provider) Probe(ctx context.Context) types.ProbeResult {
	_, _, err := p.run(ctx, p.config.Python, "-c", "import "+p.config.Module)
	if err != nil {
		return types.ProbeResult{}
	}
	return types.ProbeResult{Reachable: true}
}

// run starts the command and waits for it on a dedicated goroutine so the
// context can interrupt a hung interpreter.
func (p *Provider) run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer

	cmd := exec.Command(name, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return "", "", err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		// Do not wait for Wait to drain pipes; an inherited fd in a
		// grandchild could hold it open past the kill.
		cmd.Process.Kill()
		return "", "", ctx.Err()
	case err := <-done:
		return outBuf.String(), errBuf.String(), err
	}
}

// buildScript renders the one-shot generation script. All runtime values
// are quoted so prompt content cannot break out of the string literals.
func buildScript(module, modelPath string, req types.GenerateRequest) string {
	var b strings.Builder

	b.WriteString("import sys\n")
	fmt.Fprintf(&b, "from %s import GPT4All\n\n", module)
	fmt.Fprintf(&b, "model = GPT4All(model_name=%s, model_path=%s, allow_download=False)\n",
		pyString(filepath.Base(modelPath)), pyString(filepath.Dir(modelPath)))

	prompt := req.CombinedPrompt()
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	fmt.Fprintf(&b, "out = model.generate(%s, max_tokens=%d, temp=%s)\n",
		pyString(prompt), maxTokens, pyFloat(req.Temperature))
	b.WriteString("sys.stdout.write(out)\n")

	return b.String()
}

// pyString quotes a Go string as a Python string literal. Go's quoting
// rules are a subset Python accepts.
func pyString(s string) string {
	return strconv.Quote(s)
}

func pyFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var _ provider.Provider = (*Provider)(nil)
