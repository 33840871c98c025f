package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/edusys/bulkimport/internal/db"
)

// ImportConfig tunes the ingestion engine.
type ImportConfig struct {
	ErrorCap        int
	PreloadTimeout  time.Duration
	ValidateWorkers int
	DefaultPolicy   string
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string
}

// Config is the full application configuration.
type Config struct {
	Server ServerConfig
	DB     db.Config
	Import ImportConfig
	// Synonyms adds header synonyms per entity and field, on top of the
	// built-in ones: synonyms.student.mobile = ["whatsapp_number"].
	Synonyms map[string]map[string][]string
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		DB:     db.DefaultConfig(),
		Import: ImportConfig{
			ErrorCap:        100,
			PreloadTimeout:  30 * time.Second,
			ValidateWorkers: 4,
			DefaultPolicy:   "skip",
		},
	}
}

// Load reads config.yaml from configPath, with environment overrides mapped
// through the APP_ prefix (APP_DATABASE_HOST, APP_IMPORT_ERROR_CAP, ...).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("APP")

	v.BindEnv("server.addr")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("import.error_cap")
	v.BindEnv("import.preload_timeout_seconds")
	v.BindEnv("import.validate_workers")
	v.BindEnv("import.default_policy")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("import.error_cap") {
		cfg.Import.ErrorCap = v.GetInt("import.error_cap")
	}
	if v.IsSet("import.preload_timeout_seconds") {
		cfg.Import.PreloadTimeout = time.Duration(v.GetInt("import.preload_timeout_seconds")) * time.Second
	}
	if v.IsSet("import.validate_workers") {
		cfg.Import.ValidateWorkers = v.GetInt("import.validate_workers")
	}
	if v.IsSet("import.default_policy") {
		cfg.Import.DefaultPolicy = v.GetString("import.default_policy")
	}
	if v.IsSet("synonyms") {
		cfg.Synonyms = make(map[string]map[string][]string)
		for entity, fields := range v.GetStringMap("synonyms") {
			m, ok := fields.(map[string]any)
			if !ok {
				continue
			}
			cfg.Synonyms[entity] = make(map[string][]string, len(m))
			for field := range m {
				cfg.Synonyms[entity][field] = v.GetStringSlice("synonyms." + entity + "." + field)
			}
		}
	}

	return cfg, nil
}
