package templating

// TemplateConfig holds all configuration options for the rendering engine.
type TemplateConfig struct {
	// LiveReload bypasses the compiled-template and rendered-entry caches so
	// on-disk edits show up on the next render.
	LiveReload bool `json:"live_reload"`

	// EvalEngine selects the arithmetic evaluator for eval directives: "expr" or "js".
	EvalEngine string `json:"eval_engine"`

	// ImageBase is prefixed to every path produced by the image directive.
	ImageBase string `json:"image_base"`

	// MissingResourceText replaces resources that cannot be found.
	// Set it to UnknownStringMarker to make gaps visible while authoring.
	MissingResourceText string `json:"missing_resource_text"`

	// DefaultLanguage is used when neither the caller nor the package manifest
	// names a language.
	DefaultLanguage string `json:"default_language"`

	// PageSize is the number of entries per page when a package manifest does
	// not set its own.
	PageSize int `json:"page_size"`

	// MaxPreviewDepth limits how deeply preview directives may nest.
	MaxPreviewDepth int `json:"max_preview_depth"`

	// MaxIterations caps the number of repetitions of a single for block.
	MaxIterations int `json:"max_iterations"`
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		LiveReload:          false,
		EvalEngine:          "expr",
		ImageBase:           "/static",
		MissingResourceText: "",
		DefaultLanguage:     "en",
		PageSize:            25,
		MaxPreviewDepth:     8,
		MaxIterations:       1000,
	}
}
