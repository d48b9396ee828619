// Package capability decides which input modalities and tool affordances a
// provider/model pair currently permits.
package capability

import (
	"strings"
)

// Feature is an affordance gated by model capabilities
type Feature string

const (
	ImageAttach    Feature = "image_attach"
	FileAttach     Feature = "file_attach"
	ToolActivation Feature = "tool_activation"
)

// Descriptor holds the immutable capability flags of one model
type Descriptor struct {
	ID             string `json:"id"`
	SupportsTools  bool   `json:"supports_tools"`
	SupportsImages bool   `json:"supports_images"`
	SupportsFiles  bool   `json:"supports_files"`
}

// Has reports whether the descriptor grants a feature
func (d Descriptor) Has(feature Feature) bool {
	switch feature {
	case ImageAttach:
		return d.SupportsImages
	case FileAttach:
		return d.SupportsFiles
	case ToolActivation:
		return d.SupportsTools
	default:
		return false
	}
}

// KeyRequirement reports whether a provider needs a credential
type KeyRequirement func(providerID string) bool

// Policy is an immutable snapshot of known descriptors. IsEnabled has no side
// effects, so a new answer only needs a new Policy or new arguments.
type Policy struct {
	descriptors map[string]Descriptor
	requiresKey KeyRequirement
}

// NewPolicy builds a policy over the given descriptors. requiresKey may be nil,
// in which case every provider except ollama needs a key.
func NewPolicy(requiresKey KeyRequirement, descriptors ...Descriptor) Policy {
	if requiresKey == nil {
		requiresKey = func(providerID string) bool { return providerID != "ollama" }
	}
	m := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.ID] = d
	}
	return Policy{descriptors: m, requiresKey: requiresKey}
}

// Descriptor returns the registered descriptor of a model
func (p Policy) Descriptor(modelID string) (Descriptor, bool) {
	d, ok := p.descriptors[modelID]
	return d, ok
}

// IsEnabled reports whether feature is available for model on provider
func (p Policy) IsEnabled(feature Feature, modelID, providerID string, keyPresent bool) bool {
	if modelID == "" || providerID == "" {
		return false
	}
	if p.requiresKey != nil && p.requiresKey(providerID) && !keyPresent {
		return false
	}

	if d, ok := p.descriptors[modelID]; ok {
		return d.Has(feature)
	}

	// Ollama models rarely describe themselves; fall back to family heuristics
	if providerID == "ollama" && feature == ToolActivation {
		return ModelSupportsToolCalling(modelID)
	}
	return false
}

// toolCallingModels tracks which Ollama model families support tool calling.
// Curated from Ollama documentation and community testing.
var toolCallingModels = map[string]bool{
	"qwen":      true, // qwen2.5-coder, qwen3-coder
	"llama3.1":  true,
	"llama3.2":  true,
	"llama3.3":  true,
	"mistral":   true, // mistral:latest, mistral-nemo
	"command-r": true,
	"nemotron":  true,
	"granite3":  true,

	"llama3-gradient": false,
	"llama3":          false, // original llama3, not 3.1+
	"phi":             false,
	"gemma":           false,
	"codellama":       false,
	"deepseek":        false,
}

// orderedPrefixes is checked most specific first so "llama3.2" never
// matches the generic "llama3" entry
var orderedPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// ModelSupportsToolCalling checks an Ollama model name against the known
// tool-calling families. Unknown families are assumed unsupported.
func ModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)
	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			return toolCallingModels[prefix]
		}
	}
	return false
}
