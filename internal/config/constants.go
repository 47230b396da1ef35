package config

// Default paths for local state
const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./secrets.db"

	// DefaultKeyFilePath holds the generated encryption key when none is configured
	DefaultKeyFilePath = "./.secrets-key"
)
