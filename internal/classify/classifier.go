// Package classify is the LLM-backed fallback used when no rule matches.
// It never fails: every problem collapses into a fixed safe result.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/nhle/mailreader/internal/logger"
	"github.com/nhle/mailreader/internal/model"
)

// Fixed reasons for results that did not come from the model.
const (
	ReasonDisabled = "llm_disabled"
	ReasonError    = "llm_error"
	ReasonDefault  = "llm"
)

const (
	defaultConfidence = 50
	maxReasonLength   = 200
	defaultMaxTokens  = 256
	defaultTimeout    = 90 * time.Second

	breakerFailures = 5
	breakerCooldown = 60 * time.Second
)

// Result is the outcome of one classification.
type Result struct {
	Category   model.Category
	Confidence int
	Reason     string

	// Model is the configured model name when the backend was consulted,
	// empty when the classifier is disabled.
	Model string
}

// Fallback reports whether r is one of the fixed safe results.
func (r Result) Fallback() bool {
	return r.Reason == ReasonDisabled || r.Reason == ReasonError
}

func disabledResult() Result {
	return Result{Category: model.CategoryNormal, Confidence: defaultConfidence, Reason: ReasonDisabled}
}

func errorResult(modelName string) Result {
	return Result{Category: model.CategoryNormal, Confidence: defaultConfidence, Reason: ReasonError, Model: modelName}
}

// Classifier categorizes messages through a completion endpoint, guarded
// by a rate limiter and a circuit breaker.
type Classifier struct {
	model   string
	client  *completionClient
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithHTTPClient replaces the HTTP client used for completion calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Classifier) {
		if cl.client != nil {
			cl.client.client = c
		}
	}
}

// New builds a Classifier from cfg. An empty cfg.BaseURL yields a
// classifier that always returns the disabled result.
func New(cfg model.LLMConfig, opts ...Option) *Classifier {
	c := &Classifier{model: cfg.Model}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return c
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c.client = &completionClient{
		baseURL:   base,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-completion",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("classifier circuit breaker state changed")
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a backend is configured.
func (c *Classifier) Enabled() bool {
	return c.client != nil
}

// Classify returns a category, confidence and reason for msg. It never
// returns an error.
func (c *Classifier) Classify(ctx context.Context, msg model.NormalizedMessage) Result {
	if !c.Enabled() {
		return disabledResult()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		logger.DebugCtx(ctx).Err(err).Msg("classifier rate limit wait aborted")
		return errorResult(c.model)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		content, err := c.client.complete(ctx, BuildPrompt(msg))
		if err != nil {
			return nil, err
		}
		return ParseVerdict(content)
	})
	if err != nil {
		ev := logger.WarnCtx(ctx).Err(err).Str("message_id", msg.MessageID)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			ev = logger.DebugCtx(ctx).Str("message_id", msg.MessageID)
		}
		ev.Msg("classifier fallback")
		return errorResult(c.model)
	}

	res := out.(Result)
	res.Model = c.model
	return res
}

// ParseVerdict decodes the model's reply and normalizes it. The reply must
// be a single JSON object; surrounding whitespace is ignored.
func ParseVerdict(content string) (Result, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &data); err != nil {
		return Result{}, fmt.Errorf("decoding verdict: %w", err)
	}
	if data == nil {
		return Result{}, errors.New("verdict is not a JSON object")
	}

	category, err := optionalString(data, "category")
	if err != nil {
		return Result{}, err
	}
	reason, err := optionalString(data, "reason")
	if err != nil {
		return Result{}, err
	}
	confidence, err := parseConfidence(data["confidence"])
	if err != nil {
		return Result{}, err
	}

	cat := model.Category(strings.ToLower(strings.TrimSpace(category)))
	if !cat.Valid() {
		cat = model.CategoryNormal
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonDefault
	}
	reason = truncateRunes(reason, maxReasonLength)

	return Result{Category: cat, Confidence: clamp(confidence, 0, 100), Reason: reason}, nil
}

func optionalString(data map[string]any, key string) (string, error) {
	switch v := data[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("verdict field %q is %T, want string", key, v)
	}
}

// parseConfidence accepts a JSON number or a string holding an integer.
// Absent or null means the default.
func parseConfidence(v any) (int, error) {
	switch c := v.(type) {
	case nil:
		return defaultConfidence, nil
	case float64:
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return 0, fmt.Errorf("confidence %v is not finite", c)
		}
		// Bound before converting so huge values do not overflow.
		return int(math.Trunc(math.Max(-1, math.Min(c, 101)))), nil
	case string:
		s := strings.TrimSpace(c)
		if s == "" {
			return defaultConfidence, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("confidence %q is not an integer", c)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("confidence is %T, want number", v)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
