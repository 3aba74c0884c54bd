package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL        string  `yaml:"base_url"`
		Model          string  `yaml:"model"`
		EmbeddingModel string  `yaml:"embedding_model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
		HistoryWindow  int     `yaml:"history_window"`
	} `yaml:"llm"`

	Database struct {
		URL       string `yaml:"url"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Source struct {
		BaseURL        string   `yaml:"base_url"`
		Username       string   `yaml:"username"`
		Token          string   `yaml:"token"`
		MaxDepth       int      `yaml:"max_depth"`
		RateLimit      float64  `yaml:"rate_limit"`
		IgnorePatterns []string `yaml:"ignore_patterns"`
	} `yaml:"source"`

	Retriever struct {
		SearchThreshold float64 `yaml:"search_threshold"`
		ChatThreshold   float64 `yaml:"chat_threshold"`
		SearchLimit     int     `yaml:"search_limit"`
		ChatLimit       int     `yaml:"chat_limit"`
	} `yaml:"retriever"`

	History struct {
		MaxRetries    int `yaml:"max_retries"`
		DedupSeconds  int `yaml:"dedup_seconds"`
		ShareTTLHours int `yaml:"share_ttl_hours"`
	} `yaml:"history"`

	Lexical struct {
		IndexPath string `yaml:"index_path"`
	} `yaml:"lexical"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/corpus/config.yaml"),
			"/etc/corpus/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = "nomic-embed-text"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.HistoryWindow == 0 {
		config.LLM.HistoryWindow = 10
	}

	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Source.MaxDepth == 0 {
		config.Source.MaxDepth = 2
	}
	if config.Source.RateLimit == 0 {
		config.Source.RateLimit = 2.0
	}

	if config.Retriever.SearchThreshold == 0 {
		config.Retriever.SearchThreshold = 0.5
	}
	if config.Retriever.ChatThreshold == 0 {
		config.Retriever.ChatThreshold = 0.6
	}
	if config.Retriever.SearchLimit == 0 {
		config.Retriever.SearchLimit = 10
	}
	if config.Retriever.ChatLimit == 0 {
		config.Retriever.ChatLimit = 3
	}

	if config.History.MaxRetries == 0 {
		config.History.MaxRetries = 3
	}
	if config.History.DedupSeconds == 0 {
		config.History.DedupSeconds = 60
	}
	if config.History.ShareTTLHours == 0 {
		config.History.ShareTTLHours = 24
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if sourceURL := os.Getenv("DOCS_BASE_URL"); sourceURL != "" {
		config.Source.BaseURL = sourceURL
	}
	if token := os.Getenv("DOCS_API_TOKEN"); token != "" {
		config.Source.Token = token
	}
}
