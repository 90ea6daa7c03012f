package driven

// ConfigStore provides read/write access to the user's configuration file.
// Runtime configuration is resolved by the config package; ConfigStore backs
// the `folio config` commands that edit the file in place.
type ConfigStore interface {
	// Get retrieves a configuration value by dotted key.
	Get(key string) (any, bool)

	// GetString returns empty string if the key doesn't exist or isn't a string.
	GetString(key string) string

	// GetInt returns 0 if the key doesn't exist or isn't an integer.
	GetInt(key string) int

	// GetBool returns false if the key doesn't exist or isn't a boolean.
	GetBool(key string) bool

	// Set stores a configuration value and persists immediately.
	Set(key string, value any) error

	// Delete removes a key and persists. Missing keys are ignored.
	Delete(key string) error

	// SetDefaults stores every value whose key is not already set.
	SetDefaults(values map[string]any) error

	// Keys returns every dotted key, sorted.
	Keys() []string

	// Save persists the current configuration to storage.
	Save() error

	// Load reads configuration from storage.
	Load() error

	// Path returns the configuration file path.
	Path() string
}
