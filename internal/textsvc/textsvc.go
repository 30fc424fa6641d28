// Package textsvc provides embedding, similarity, and summarization
// over an OpenAI-compatible endpoint via langchaingo.
//
// The service works against both OpenAI and local TEI or vLLM servers
// exposing the OpenAI surface. Every call is rate limited and retried
// with exponential backoff; callers treat any returned error as a
// signal to degrade to the lexical fallbacks in this package rather
// than abort.
package textsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	defaultBaseURL    = "http://localhost:8080/v1"
	defaultModel      = "gpt-4o-mini"
	defaultEmbedModel = "text-embedding-3-small"
	defaultRPS        = 5.0
	defaultBurst      = 10
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second

	baseBackoff = 1 * time.Second

	// summaryTemperature keeps summaries factual and stable.
	summaryTemperature = 0.3
)

// Config holds configuration for the text service.
type Config struct {
	// BaseURL is the base URL for the OpenAI-compatible API.
	BaseURL string

	// Model is the chat model used for summarization.
	Model string

	// EmbedModel is the embedding model.
	EmbedModel string

	// APIKey is the API key (optional for local servers).
	APIKey string

	// RPS and Burst bound the request rate.
	RPS   float64
	Burst int

	// MaxRetries caps retry attempts per call.
	MaxRetries int

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.RPS < 0 {
		return fmt.Errorf("%w: rps must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Service implements engram.TextService against an OpenAI-compatible
// endpoint.
type Service struct {
	llm        *openai.LLM
	embedder   *embeddings.EmbedderImpl
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
}

var _ engram.TextService = (*Service)(nil)

// New creates a text service. Zero config fields take the package
// defaults, so a bare Config{BaseURL: ...} is usable.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultEmbedModel
	}
	if cfg.RPS == 0 {
		cfg.RPS = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// langchaingo requires a token, use placeholder for local servers
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbedModel),
		openai.WithToken(apiKey),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{
		llm:        llm,
		embedder:   embedder,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		logger:     logger.Named("textsvc"),
	}, nil
}

// Embed returns a dense vector for the text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var opErr error
	defer func() { recordRequest("embed", time.Since(start), opErr) }()

	if text == "" {
		opErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, opErr
	}

	var vec []float32
	opErr = s.withRetries(ctx, func() error {
		var err error
		vec, err = s.embedder.EmbedQuery(ctx, text)
		return err
	})
	if opErr != nil {
		return nil, opErr
	}
	return vec, nil
}

// Similarity returns the cosine similarity between the two texts'
// embeddings, in [-1,1]. Both texts are embedded in one batch call.
func (s *Service) Similarity(ctx context.Context, a, b string) (float64, error) {
	start := time.Now()
	var opErr error
	defer func() { recordRequest("similarity", time.Since(start), opErr) }()

	if a == "" || b == "" {
		opErr = fmt.Errorf("%w: both texts required", ErrEmptyInput)
		return 0, opErr
	}

	var vectors [][]float32
	opErr = s.withRetries(ctx, func() error {
		var err error
		vectors, err = s.embedder.EmbedDocuments(ctx, []string{a, b})
		return err
	})
	if opErr != nil {
		return 0, opErr
	}
	if len(vectors) != 2 {
		opErr = fmt.Errorf("%w: expected 2 vectors, got %d", engram.ErrServiceUnavailable, len(vectors))
		return 0, opErr
	}

	return CosineSimilarity(vectors[0], vectors[1]), nil
}

// summaryPrompt frames the compression task for the chat model.
const summaryPrompt = "Summarize the following recurring agent behavior in at most two sentences. Keep concrete tool names, file paths, and error strings. Do not add commentary.\n\n"

// Summarize compresses text to roughly budgetTokens tokens using the
// chat model.
func (s *Service) Summarize(ctx context.Context, text string, budgetTokens int) (string, error) {
	start := time.Now()
	var opErr error
	defer func() { recordRequest("summarize", time.Since(start), opErr) }()

	if text == "" {
		opErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return "", opErr
	}
	if budgetTokens <= 0 {
		opErr = fmt.Errorf("%w: budget must be positive", ErrInvalidConfig)
		return "", opErr
	}

	var summary string
	opErr = s.withRetries(ctx, func() error {
		var err error
		summary, err = llms.GenerateFromSinglePrompt(ctx, s.llm, summaryPrompt+text,
			llms.WithMaxTokens(budgetTokens),
			llms.WithTemperature(summaryTemperature),
		)
		return err
	})
	if opErr != nil {
		return "", opErr
	}
	return summary, nil
}

// withRetries waits on the rate limiter, then runs fn with exponential
// backoff. Context errors abort immediately; everything else is
// treated as transient up to maxRetries and then wrapped in
// engram.ErrServiceUnavailable.
func (s *Service) withRetries(ctx context.Context, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.logger.Debug("text service call failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return fmt.Errorf("%w: max retries exceeded: %v", engram.ErrServiceUnavailable, lastErr)
}

// Disabled is the text service used when no endpoint is configured.
// Every call reports engram.ErrServiceUnavailable so callers take
// their lexical fallbacks.
type Disabled struct{}

var _ engram.TextService = Disabled{}

// Embed always fails with engram.ErrServiceUnavailable.
func (Disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: text service disabled", engram.ErrServiceUnavailable)
}

// Similarity always fails with engram.ErrServiceUnavailable.
func (Disabled) Similarity(context.Context, string, string) (float64, error) {
	return 0, fmt.Errorf("%w: text service disabled", engram.ErrServiceUnavailable)
}

// Summarize always fails with engram.ErrServiceUnavailable.
func (Disabled) Summarize(context.Context, string, int) (string, error) {
	return "", fmt.Errorf("%w: text service disabled", engram.ErrServiceUnavailable)
}
