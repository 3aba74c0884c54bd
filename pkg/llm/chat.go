package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/corpus/internal/models"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
	HistoryWindow  int    // prior messages carried into the prompt
}

// ChatEngine is an engine that uses an LLM to generate chat responses
// grounded in retrieved documentation chunks.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature <= 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant with access to the following documentation. Answer questions based on this context and cite the sources you used."
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.HistoryWindow == 0 {
		config.HistoryWindow = 10
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// Chat generates a reply for query using the retrieved context chunks and
// the tail of the conversation history.
func (ce *ChatEngine) Chat(ctx context.Context, query string, contexts []models.SearchResult, history []models.Message) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
	}

	if block := ContextBlock(contexts); block != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, block))
	}

	for _, msg := range tail(history, ce.config.HistoryWindow) {
		role := llms.ChatMessageTypeHuman
		if msg.Sender == models.SenderBot {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, msg.Text))
	}

	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, query))

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: no response from LLM")
	}

	return response.Choices[0].Content, nil
}

// ContextBlock renders the retrieved chunks into the prompt section the
// model answers from.
func ContextBlock(contexts []models.SearchResult) string {
	if len(contexts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant documentation:\n\n")
	for _, c := range contexts {
		fmt.Fprintf(&b, "Source: %s (%s)\n%s\n\n", c.Title, c.URL, c.Text)
	}
	return strings.TrimSpace(b.String())
}

func tail(messages []models.Message, n int) []models.Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
