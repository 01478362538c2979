package advisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

const (
	// defaultModel is used when the configuration leaves the model blank.
	defaultModel = "gemini-2.5-flash"

	// narrativeTemperature keeps the prose anchored to the supplied facts.
	narrativeTemperature float32 = 0.4

	maxNarrativeTokens int32 = 1024

	maxRetryInterval = 10 * time.Second
	maxRetryElapsed  = 45 * time.Second
)

// Gemini generates audit narratives through the Gemini API.
type Gemini struct {
	client        *genai.Client
	model         string
	logger        *zap.Logger
	retryInterval time.Duration
}

var _ schemas.Advisor = (*Gemini)(nil)

// NewGemini initializes the API client.
func NewGemini(ctx context.Context, cfg config.AdvisorConfig, logger *zap.Logger) (*Gemini, error) {
	return newGemini(ctx, cfg, logger, "")
}

// newGemini exists so tests can aim the client at a mock server.
func newGemini(ctx context.Context, cfg config.AdvisorConfig, logger *zap.Logger, baseURL string) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Gemini{
		client:        client,
		model:         model,
		logger:        logger.Named("advisor.gemini"),
		retryInterval: backoff.DefaultInitialInterval,
	}, nil
}

// Narrative asks the model for an executive summary of the report,
// retrying transient API failures.
func (g *Gemini) Narrative(ctx context.Context, report *schemas.AuditReport) (string, error) {
	if report == nil {
		return "", errors.New("cannot narrate a nil report")
	}

	contents := genai.Text(buildPrompt(report))
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(narrativeTemperature),
		MaxOutputTokens:   maxNarrativeTokens,
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.retryInterval
	expo.MaxInterval = maxRetryInterval
	expo.MaxElapsedTime = maxRetryElapsed

	var narrative string
	operation := func() error {
		start := time.Now()
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
		if err != nil {
			return classifyError(err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(errors.New("model returned no candidates"))
		}

		text := strings.TrimSpace(resp.Text())
		if text == "" {
			reason := resp.Candidates[0].FinishReason
			if reason == genai.FinishReasonSafety || reason == genai.FinishReasonProhibitedContent {
				return backoff.Permanent(fmt.Errorf("model blocked the request (reason: %s)", reason))
			}
			return fmt.Errorf("model returned empty content (reason: %s)", reason)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start))}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		g.logger.Info("Narrative generation complete", fields...)

		narrative = text
		return nil
	}

	notify := func(err error, wait time.Duration) {
		g.logger.Warn("Narrative request failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expo, ctx), notify); err != nil {
		return "", err
	}
	return narrative, nil
}

// classifyError keeps quota and server hiccups retryable; anything the
// API rejects outright is permanent.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	// Network-level failure, worth retrying.
	return err
}

// Close is part of schemas.Advisor; the API client holds no resources
// that outlive its requests.
func (g *Gemini) Close() error { return nil }
