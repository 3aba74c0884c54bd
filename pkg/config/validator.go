package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	// Validate Source config
	if c.Source.MaxDepth < 1 {
		errors = append(errors, ValidationError{
			Field:   "source.max_depth",
			Message: "max_depth must be positive",
		})
	}

	if c.Source.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "source.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Retriever config
	if c.Retriever.SearchThreshold < 0 || c.Retriever.SearchThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.search_threshold",
			Message: "search_threshold must be between 0 and 1",
		})
	}

	if c.Retriever.ChatThreshold < 0 || c.Retriever.ChatThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.chat_threshold",
			Message: "chat_threshold must be between 0 and 1",
		})
	}

	if c.Retriever.SearchLimit < 1 || c.Retriever.ChatLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.limits",
			Message: "search_limit and chat_limit must be positive",
		})
	}

	// Validate History config
	if c.History.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "history.max_retries",
			Message: "max_retries must be positive",
		})
	}

	if c.History.DedupSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "history.dedup_seconds",
			Message: "dedup_seconds cannot be negative",
		})
	}

	// Validate base URL format
	if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	return errors
}
