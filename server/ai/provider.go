package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/riverchat/riverchat/internal/profile"
	rcerrors "github.com/riverchat/riverchat/server/internal/errors"
)

// Message represents a chat message sent to the model.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Embedder generates embedding vectors for text.
type Embedder interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
}

// Streamer streams chat completions token by token. The content channel is
// closed when the stream ends; the error channel carries at most one error.
type Streamer interface {
	ChatStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error)
}

// Config holds the AI provider configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	MaxRetries     int
	Timeout        time.Duration
}

// Provider provides chat and embedding capabilities over an OpenAI-compatible
// API.
type Provider struct {
	client *openai.Client
	config *Config
}

// NewProvider creates a new AI provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// NewProviderFromProfile creates a provider from the server profile.
func NewProviderFromProfile(p *profile.Profile) (*Provider, error) {
	return NewProvider(&Config{
		BaseURL:        p.AIBaseURL,
		APIKey:         p.AIAPIKey,
		EmbeddingModel: p.AIEmbeddingModel,
		ChatModel:      p.AIChatModel,
	})
}

// ChatModel returns the configured default chat model.
func (p *Provider) ChatModel() string {
	return p.config.ChatModel
}

// Embedding generates an embedding vector for the given text.
func (p *Provider) Embedding(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := p.doWithRetry(ctx, func() error {
		req := openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(p.config.EmbeddingModel),
		}

		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return errors.New("empty embedding response")
		}
		result = resp.Data[0].Embedding
		return nil
	})

	if err != nil {
		return nil, rcerrors.UpstreamModel("failed to generate embedding", err)
	}
	return result, nil
}

// Chat performs a synchronous chat completion.
func (p *Provider) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	if model == "" {
		model = p.config.ChatModel
	}

	var result string
	err := p.doWithRetry(ctx, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: convertMessages(messages),
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})

	if err != nil {
		return "", rcerrors.UpstreamModel("failed to complete chat", err)
	}
	return result, nil
}

// ChatStream performs a streaming chat completion. Tokens arrive on the
// content channel as the model emits them; both channels are closed when the
// stream ends. A mid-stream failure is delivered on the error channel after
// any tokens already produced.
func (p *Provider) ChatStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error) {
	if model == "" {
		model = p.config.ChatModel
	}

	contentChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: convertMessages(messages),
			Stream:   true,
		})
		if err != nil {
			errChan <- rcerrors.UpstreamModel("failed to open chat stream", err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					errChan <- rcerrors.Interrupted(ctx.Err())
				} else {
					errChan <- rcerrors.UpstreamModel("chat stream failed", err)
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				errChan <- rcerrors.Interrupted(ctx.Err())
				return
			}
		}
	}()

	return contentChan, errChan
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		converted[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return converted
}

// doWithRetry executes a function with exponential backoff retry.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < p.config.MaxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("ai request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
