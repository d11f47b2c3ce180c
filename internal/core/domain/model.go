package domain

// ModelConfig fixes, per embedding model, the output dimensionality and the
// vector collection it writes to. Dimensionality is validated before every
// index write; a mismatch is a hard error, never truncated or padded.
type ModelConfig struct {
	Name       string
	Dimension  int
	Collection string
}

// Models is the registry of supported embedding models, keyed by the model
// name carried in job envelopes and search requests.
type Models map[string]ModelConfig

func DefaultModels() Models {
	return Models{
		"nomic-embed-text": {Name: "nomic-embed-text", Dimension: 768, Collection: "kb_nomic_docs"},
		"llama3":           {Name: "llama3", Dimension: 4096, Collection: "kb_llama3_docs"},
		"mistral":          {Name: "mistral", Dimension: 4096, Collection: "kb_mistral_docs"},
	}
}

func (m Models) Lookup(name string) (ModelConfig, error) {
	cfg, ok := m[name]
	if !ok {
		return ModelConfig{}, WrapError(ErrInvalidInput, "lookup model", errUnknownModel(name))
	}
	return cfg, nil
}

type errUnknownModel string

func (e errUnknownModel) Error() string { return "unknown embedding model: " + string(e) }
