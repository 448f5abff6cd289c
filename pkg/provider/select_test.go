package provider

import (
	"testing"

	"github.com/spetr/localrouter/pkg/types"
)

func snapshotOf(reachable ...types.Kind) types.Snapshot {
	snap := types.Snapshot{}
	for _, kind := range Priority {
		snap[kind] = types.ProbeResult{}
	}
	for _, kind := range reachable {
		snap[kind] = types.ProbeResult{Reachable: true}
	}
	return snap
}

func TestSelectExplicit(t *testing.T) {
	tests := []struct {
		name      string
		mode      types.Mode
		reachable []types.Kind
		want      types.Kind
		wantOK    bool
	}{
		{
			name:      "explicit reachable",
			mode:      types.Mode(types.KindOllama),
			reachable: []types.Kind{types.KindOllama},
			want:      types.KindOllama,
			wantOK:    true,
		},
		{
			name:      "explicit unreachable resolves to nothing",
			mode:      types.Mode(types.KindOllama),
			reachable: nil,
			wantOK:    false,
		},
		{
			name:      "explicit unreachable never substitutes",
			mode:      types.Mode(types.KindJan),
			reachable: []types.Kind{types.KindOllama, types.KindLMStudio, types.KindGPT4All, types.KindPyScript},
			wantOK:    false,
		},
		{
			name:      "explicit subprocess",
			mode:      types.Mode(types.KindPyScript),
			reachable: []types.Kind{types.KindPyScript},
			want:      types.KindPyScript,
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.mode, snapshotOf(tt.reachable...))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Select(%q) = (%q, %v), want (%q, %v)", tt.mode, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSelectAuto(t *testing.T) {
	tests := []struct {
		name      string
		reachable []types.Kind
		want      types.Kind
		wantOK    bool
	}{
		{
			name:      "native wins when reachable",
			reachable: []types.Kind{types.KindOllama, types.KindJan, types.KindPyScript},
			want:      types.KindOllama,
			wantOK:    true,
		},
		{
			name:      "first openai-compatible when native is down",
			reachable: []types.Kind{types.KindJan, types.KindGPT4All},
			want:      types.KindJan,
			wantOK:    true,
		},
		{
			name:      "subprocess is last resort",
			reachable: []types.Kind{types.KindPyScript},
			want:      types.KindPyScript,
			wantOK:    true,
		},
		{
			name:      "nothing reachable",
			reachable: nil,
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(types.ModeAuto, snapshotOf(tt.reachable...))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Select(auto) = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSelectAutoHonorsPriorityOrder(t *testing.T) {
	// With every backend reachable, walking Priority from any suffix must
	// return exactly the first element of that suffix.
	for i, kind := range Priority {
		got, ok := Select(types.ModeAuto, snapshotOf(Priority[i:]...))
		if !ok || got != kind {
			t.Errorf("priority position %d: got (%q, %v), want %q", i, got, ok, kind)
		}
	}
}

func TestSelectEmptyModeIsAuto(t *testing.T) {
	got, ok := Select("", snapshotOf(types.KindLMStudio))
	if !ok || got != types.KindLMStudio {
		t.Errorf("Select(\"\") = (%q, %v), want (%q, true)", got, ok, types.KindLMStudio)
	}
}

func TestRegistryCapabilities(t *testing.T) {
	if len(Priority) != 5 {
		t.Fatalf("expected 5 backends in priority order, got %d", len(Priority))
	}
	for _, kind := range Priority {
		info, ok := Lookup(kind)
		if !ok {
			t.Fatalf("no registry entry for %q", kind)
		}
		if info.Kind != kind {
			t.Errorf("registry entry for %q carries kind %q", kind, info.Kind)
		}
		if info.Transport != TransportSubprocess && info.DefaultEndpoint == "" {
			t.Errorf("HTTP backend %q has no default endpoint", kind)
		}
	}
	if SupportsEmbeddings(types.KindPyScript) {
		t.Error("subprocess backend must not support embeddings")
	}
	if !SupportsEmbeddings(types.KindOllama) {
		t.Error("ollama backend must support embeddings")
	}
	if Known("nonsense") {
		t.Error("unknown kind reported as known")
	}
}
