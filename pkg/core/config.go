package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for an Assistant.
//
// Example:
//
//	config := &core.Config{
//	    GenAI: core.GenAIConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	        Model:    "gpt-4o-mini",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "hash",
//	        Dimensions: 768,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	    },
//	    Database: core.DatabaseConfig{
//	        Path: "./mindcore.db",
//	    },
//	}
type Config struct {
	// GenAI contains generative service configuration.
	GenAI GenAIConfig `json:"genai"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Database contains the shared relational database configuration.
	Database DatabaseConfig `json:"database"`

	// Assembly contains context assembly defaults.
	Assembly AssemblyConfig `json:"assembly,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `json:"log,omitempty"`
}

// GenAIConfig contains configuration for the generative service.
//
// Supported providers: openai, anthropic.
type GenAIConfig struct {
	// Provider is the generative service provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (optional, provider default if empty).
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, hash. The hash provider is a
// deterministic, non-semantic placeholder for deployments without an
// embedding model.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// Model is the embedding model name (openai only).
	Model string `json:"model,omitempty"`

	// Dimensions is the dimension of the embedding vectors.
	Dimensions int `json:"dimensions,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: sqlite, postgres, mysql, chromem.
type VectorStoreConfig struct {
	// Provider is the vector store provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For sqlite: db_path, table_name
	// For postgres: host, port, user, password, db_name, table_name
	// For mysql: host, port, user, password, db_name, table_name
	// For chromem: collection_name
	Config map[string]interface{} `json:"config,omitempty"`
}

// DatabaseConfig contains configuration for the shared SQLite database
// holding conversations, structured records, graph edges, documents,
// agent runs, experiences and the audit trail.
type DatabaseConfig struct {
	// Path is the SQLite database file path (":memory:" for tests).
	Path string `json:"path"`
}

// AssemblyConfig contains context assembly defaults.
type AssemblyConfig struct {
	// Depth is the number of recent episodic turns included per call.
	Depth int `json:"depth,omitempty"`

	// TopK is the number of semantic matches requested per call.
	TopK int `json:"top_k,omitempty"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is "text" (tinted, human-readable) or "json".
	Format string `json:"format,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PATH
//   - VECTOR_PROVIDER (sqlite, postgres, mysql, chromem) plus
//     POSTGRES_*/MYSQL_* connection variables
//   - GENAI_PROVIDER, GENAI_API_KEY, GENAI_MODEL, GENAI_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_MODEL, EMBEDDING_DIMENSIONS
//   - ASSEMBLY_DEPTH, ASSEMBLY_TOP_K
//   - LOG_LEVEL, LOG_FORMAT
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("VECTOR_PROVIDER", "sqlite")
	vectorStoreConfig := make(map[string]interface{})

	switch provider {
	case "sqlite":
		vectorStoreConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("DATABASE_PATH", "./mindcore.db"),
			"table_name": getEnvOrDefault("VECTOR_TABLE", "semantic_memories"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		vectorStoreConfig = map[string]interface{}{
			"host":       getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":   os.Getenv("POSTGRES_PASSWORD"),
			"db_name":    getEnvOrDefault("POSTGRES_DATABASE", "mindcore"),
			"table_name": getEnvOrDefault("VECTOR_TABLE", "semantic_memories"),
			"ssl_mode":   getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		vectorStoreConfig = map[string]interface{}{
			"host":       getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":       port,
			"user":       getEnvOrDefault("MYSQL_USER", "root"),
			"password":   os.Getenv("MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("MYSQL_DATABASE", "mindcore"),
			"table_name": getEnvOrDefault("VECTOR_TABLE", "semantic_memories"),
		}
	case "chromem":
		vectorStoreConfig = map[string]interface{}{
			"collection_name": getEnvOrDefault("VECTOR_TABLE", "semantic_memories"),
		}
	}

	genaiProvider := getEnvOrDefault("GENAI_PROVIDER", "openai")
	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "768"))
	depth, _ := strconv.Atoi(getEnvOrDefault("ASSEMBLY_DEPTH", "8"))
	topK, _ := strconv.Atoi(getEnvOrDefault("ASSEMBLY_TOP_K", "3"))

	config := &Config{
		GenAI: GenAIConfig{
			Provider: genaiProvider,
			APIKey:   os.Getenv("GENAI_API_KEY"),
			Model:    os.Getenv("GENAI_MODEL"),
			BaseURL:  os.Getenv("GENAI_BASE_URL"),
		},
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "hash"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			Dimensions: dims,
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   vectorStoreConfig,
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("DATABASE_PATH", "./mindcore.db"),
		},
		Assembly: AssemblyConfig{
			Depth: depth,
			TopK:  topK,
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}
	return config, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewCoreError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewCoreError("LoadConfigFromJSON", err)
	}
	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - GenAI provider must be specified
//   - Embedder provider must be specified
//   - Vector store provider must be specified
//   - Database path must be specified
func (c *Config) Validate() error {
	if c.GenAI.Provider == "" {
		return NewCoreError("Validate", ErrInvalidConfig)
	}
	if c.Embedder.Provider == "" {
		return NewCoreError("Validate", ErrInvalidConfig)
	}
	if c.VectorStore.Provider == "" {
		return NewCoreError("Validate", ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return NewCoreError("Validate", ErrInvalidConfig)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
