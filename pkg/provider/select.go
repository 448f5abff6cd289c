package provider

import "github.com/spetr/localrouter/pkg/types"

// Priority is the fixed auto-mode fallback order: the native HTTP backend
// first, the OpenAI-compatible backends next, the subprocess backend last.
var Priority = []types.Kind{
	types.KindOllama,
	types.KindLMStudio,
	types.KindJan,
	types.KindGPT4All,
	types.KindPyScript,
}

// Select resolves the active backend from the configured mode and a
// complete probe snapshot.
//
// An explicit mode resolves to its backend only when that backend is
// reachable; an unreachable explicit choice resolves to nothing rather
// than silently substituting another backend. Auto mode returns the first
// reachable backend in Priority order.
//
// Select is pure: it never probes, never mutates, and depends on nothing
// but its arguments.
func Select(mode types.Mode, snapshot types.Snapshot) (types.Kind, bool) {
	if kind, ok := mode.Explicit(); ok {
		if snapshot[kind].Reachable {
			return kind, true
		}
		return "", false
	}
	for _, kind := range Priority {
		if snapshot[kind].Reachable {
			return kind, true
		}
	}
	return "", false
}
