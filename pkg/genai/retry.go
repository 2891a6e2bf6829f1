package genai

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries attempted on rate limiting.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the delay before the first retry; it doubles
	// on each subsequent attempt (2s, 4s, 8s).
	DefaultRetryBaseDelay = 2000 * time.Millisecond
)

// retryService decorates a Service with the rate-limit retry policy.
//
// Only generation calls are retried; embeddings pass through, and any
// error other than ErrRateLimited propagates immediately.
type retryService struct {
	inner      Service
	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
}

// RetryOption configures the retry decorator.
type RetryOption func(*retryService)

// WithSleepFunc replaces the sleep function. Tests use this to observe
// delays without waiting.
func WithSleepFunc(sleep func(time.Duration)) RetryOption {
	return func(s *retryService) {
		s.sleep = sleep
	}
}

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) RetryOption {
	return func(s *retryService) {
		s.maxRetries = n
	}
}

// WithBaseDelay overrides the initial backoff delay.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(s *retryService) {
		s.baseDelay = d
	}
}

// WithRetry wraps a Service so that rate-limited generation calls are
// retried up to 3 times with exponential backoff (2s, 4s, 8s). Exhausted
// retries surface the final ErrRateLimited to the caller.
func WithRetry(inner Service, opts ...RetryOption) Service {
	s := &retryService{
		inner:      inner,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultRetryBaseDelay,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *retryService) GenerateText(ctx context.Context, history []Message, system string, opts ...GenerateOption) (string, error) {
	var text string
	err := s.withBackoff(ctx, func() error {
		var err error
		text, err = s.inner.GenerateText(ctx, history, system, opts...)
		return err
	})
	return text, err
}

func (s *retryService) GenerateWithTools(ctx context.Context, history []Message, system string, tools []ToolDeclaration, opts ...GenerateOption) (*Response, error) {
	var resp *Response
	err := s.withBackoff(ctx, func() error {
		var err error
		resp, err = s.inner.GenerateWithTools(ctx, history, system, tools, opts...)
		return err
	})
	return resp, err
}

func (s *retryService) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	return s.inner.GenerateEmbedding(ctx, text)
}

func (s *retryService) Close() error {
	return s.inner.Close()
}

// withBackoff runs fn, retrying on ErrRateLimited with doubling delays.
func (s *retryService) withBackoff(ctx context.Context, fn func() error) error {
	delay := s.baseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return err
		}
		if attempt >= s.maxRetries {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.sleep(delay)
		delay *= 2
	}
}
