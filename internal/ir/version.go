package ir

// Version constants for the model format and engine.
const (
	// FormatVersion is the ModelSpec schema version.
	FormatVersion = "1"

	// EngineVersion is the latentrec engine version.
	EngineVersion = "0.1.0"
)
