// Package types defines the shared data model for backend routing.
package types

// Kind identifies one of the supported inference backends.
type Kind string

// Supported backend kinds. The set is closed; adapters exist for exactly
// these five.
const (
	KindOllama   Kind = "ollama"
	KindLMStudio Kind = "lmstudio"
	KindJan      Kind = "jan"
	KindGPT4All  Kind = "gpt4all"
	KindPyScript Kind = "pyscript"
)

// Mode selects how the active backend is resolved: "auto" walks the fixed
// priority order, any backend kind name pins that backend explicitly.
type Mode string

// ModeAuto resolves to the first reachable backend in priority order.
const ModeAuto Mode = "auto"

// Explicit returns the pinned backend kind when the mode is not auto.
func (m Mode) Explicit() (Kind, bool) {
	if m == ModeAuto || m == "" {
		return "", false
	}
	return Kind(m), true
}

// GenerateRequest is a single text generation call.
type GenerateRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// CombinedPrompt returns the system instruction and user prompt merged into
// a single prompt string, for backends whose wire format carries only one
// prompt field.
func (r GenerateRequest) CombinedPrompt() string {
	if r.System == "" {
		return r.Prompt
	}
	return r.System + "\n\n" + r.Prompt
}

// ProbeResult is the outcome of one liveness check against one backend.
type ProbeResult struct {
	// Reachable is true when the backend answered the liveness check.
	Reachable bool `json:"reachable"`
	// Models lists model names discovered during the probe, for backends
	// that expose a model-listing call. Best effort; may be nil even when
	// the backend is reachable.
	Models []string `json:"models,omitempty"`
}

// Snapshot is the complete result of one probe batch, one entry per
// registered backend. A snapshot is always published whole; readers never
// observe a mix of two batches.
type Snapshot map[Kind]ProbeResult

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	cp := make(Snapshot, len(s))
	for k, v := range s {
		if v.Models != nil {
			models := make([]string, len(v.Models))
			copy(models, v.Models)
			v.Models = models
		}
		cp[k] = v
	}
	return cp
}
