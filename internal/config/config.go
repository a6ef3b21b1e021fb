package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/comigor/queryhub-go/internal/llm"
)

// Config holds the application configuration
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Server   ServerConfig   `mapstructure:"server"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Executor ExecutorConfig `mapstructure:"executor"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
}

// LLMConfig holds the completion backend configuration
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Options is decoded strictly by llm.ParseOptions, not by viper.
	Options llm.Options `mapstructure:"-"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatasetConfig controls ingestion and the grounding context built from it.
type DatasetConfig struct {
	TableName    string `mapstructure:"table_name"`
	MaxBytes     int64  `mapstructure:"max_bytes"`
	Delimiter    string `mapstructure:"delimiter"`
	SampleValues int    `mapstructure:"sample_values"`
	SampleRows   int    `mapstructure:"sample_rows"`
}

// ExecutorConfig bounds statement execution.
type ExecutorConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRows      int           `mapstructure:"max_rows"`
	GrammarCheck bool          `mapstructure:"grammar_check"`
}

// HistoryConfig sizes the ledger and its optional sqlite mirror.
type HistoryConfig struct {
	Capacity   int    `mapstructure:"capacity"`
	DBPath     string `mapstructure:"db_path"`
	SinkBuffer int    `mapstructure:"sink_buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "http://localhost:1234/v1")
	v.SetDefault("llm.model", "qwen2.5-1.5b-instruct")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("dataset.table_name", "data")
	v.SetDefault("dataset.max_bytes", 50<<20)
	v.SetDefault("dataset.sample_values", 5)
	v.SetDefault("dataset.sample_rows", 3)
	v.SetDefault("executor.timeout", "10s")
	v.SetDefault("executor.max_rows", 10000)
	v.SetDefault("executor.grammar_check", true)
	v.SetDefault("history.capacity", 1000)
	v.SetDefault("history.sink_buffer", 256)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH) with QUERYHUB_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("queryhub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	opts, err := llm.ParseOptions(v.GetStringMap("llm.options"), llm.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("llm.options: %w", err)
	}
	config.LLM.Options = opts

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Dataset.TableName) == "" {
		errs = append(errs, errors.New("dataset.table_name is required"))
	}
	if c.Dataset.MaxBytes <= 0 {
		errs = append(errs, errors.New("dataset.max_bytes must be positive"))
	}
	if len([]rune(c.Dataset.Delimiter)) > 1 {
		errs = append(errs, fmt.Errorf("dataset.delimiter must be a single character, got %q", c.Dataset.Delimiter))
	}
	if c.Executor.Timeout <= 0 {
		errs = append(errs, errors.New("executor.timeout must be positive"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	return errors.Join(errs...)
}
