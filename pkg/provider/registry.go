package provider

import "github.com/spetr/localrouter/pkg/types"

// Transport describes how a backend is reached.
type Transport string

// Supported transports.
const (
	// TransportNative is the Ollama HTTP API.
	TransportNative Transport = "native"
	// TransportOpenAI is an OpenAI-compatible HTTP API.
	TransportOpenAI Transport = "openai"
	// TransportSubprocess is a local interpreter process.
	TransportSubprocess Transport = "subprocess"
)

// Info is the static registry entry for one backend kind.
type Info struct {
	Kind               types.Kind
	DisplayName        string
	Transport          Transport
	DefaultEndpoint    string
	DefaultModel       string
	SupportsEmbeddings bool
}

// registry is the closed table of supported backends. It is never mutated
// at runtime.
var registry = map[types.Kind]Info{
	types.KindOllama: {
		Kind:               types.KindOllama,
		DisplayName:        "Ollama",
		Transport:          TransportNative,
		DefaultEndpoint:    "http://localhost:11434",
		DefaultModel:       "llama3",
		SupportsEmbeddings: true,
	},
	types.KindLMStudio: {
		Kind:               types.KindLMStudio,
		DisplayName:        "LM Studio",
		Transport:          TransportOpenAI,
		DefaultEndpoint:    "http://localhost:1234/v1",
		DefaultModel:       "local-model",
		SupportsEmbeddings: true,
	},
	types.KindJan: {
		Kind:               types.KindJan,
		DisplayName:        "Jan",
		Transport:          TransportOpenAI,
		DefaultEndpoint:    "http://localhost:1337/v1",
		DefaultModel:       "local-model",
		SupportsEmbeddings: true,
	},
	types.KindGPT4All: {
		Kind:               types.KindGPT4All,
		DisplayName:        "GPT4All",
		Transport:          TransportOpenAI,
		DefaultEndpoint:    "http://localhost:4891/v1",
		DefaultModel:       "local-model",
		SupportsEmbeddings: true,
	},
	types.KindPyScript: {
		Kind:               types.KindPyScript,
		DisplayName:        "Python script",
		Transport:          TransportSubprocess,
		SupportsEmbeddings: false,
	},
}

// Lookup returns the registry entry for a backend kind.
func Lookup(kind types.Kind) (Info, bool) {
	info, ok := registry[kind]
	return info, ok
}

// Known reports whether the kind is one of the supported backends.
func Known(kind types.Kind) bool {
	_, ok := registry[kind]
	return ok
}

// SupportsEmbeddings reports whether the backend kind supports embedding
// calls. Unknown kinds report false.
func SupportsEmbeddings(kind types.Kind) bool {
	return registry[kind].SupportsEmbeddings
}

// Kinds returns all supported backend kinds in priority order.
func Kinds() []types.Kind {
	kinds := make([]types.Kind, len(Priority))
	copy(kinds, Priority)
	return kinds
}
