package genai_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindcore-go/pkg/genai"
	"github.com/mindweave/mindcore-go/pkg/genai/genaitest"
)

func TestRetryOnRateLimit(t *testing.T) {
	fake := genaitest.New(
		genaitest.Fail(genai.ErrRateLimited),
		genaitest.Fail(genai.ErrRateLimited),
		genaitest.Text("recovered"),
	)

	var delays []time.Duration
	svc := genai.WithRetry(fake, genai.WithSleepFunc(func(d time.Duration) {
		delays = append(delays, d)
	}))

	text, err := svc.GenerateText(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)

	// Exactly two delays, doubling from 2s.
	require.Len(t, delays, 2)
	assert.Equal(t, 2000*time.Millisecond, delays[0])
	assert.Equal(t, 4000*time.Millisecond, delays[1])
	assert.Equal(t, 3, fake.CallCount())
}

func TestRetryExhaustion(t *testing.T) {
	fake := genaitest.New(genaitest.Fail(genai.ErrRateLimited))

	var delays []time.Duration
	svc := genai.WithRetry(fake, genai.WithSleepFunc(func(d time.Duration) {
		delays = append(delays, d)
	}))

	_, err := svc.GenerateText(context.Background(), nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, genai.ErrRateLimited)

	require.Len(t, delays, 3)
	assert.Equal(t, 2*time.Second, delays[0])
	assert.Equal(t, 4*time.Second, delays[1])
	assert.Equal(t, 8*time.Second, delays[2])
	assert.Equal(t, 4, fake.CallCount())
}

func TestNoRetryOnOtherErrors(t *testing.T) {
	boom := errors.New("model exploded")
	fake := genaitest.New(genaitest.Fail(boom))

	var delays []time.Duration
	svc := genai.WithRetry(fake, genai.WithSleepFunc(func(d time.Duration) {
		delays = append(delays, d)
	}))

	_, err := svc.GenerateText(context.Background(), nil, "")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, delays)
	assert.Equal(t, 1, fake.CallCount())
}

func TestRetryWrapsToolCalls(t *testing.T) {
	fake := genaitest.New(
		genaitest.Fail(genai.ErrRateLimited),
		genaitest.Tool("lookup", map[string]interface{}{"q": "ada"}, "checking"),
	)

	svc := genai.WithRetry(fake, genai.WithSleepFunc(func(time.Duration) {}))

	resp, err := svc.GenerateWithTools(context.Background(), nil, "", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "lookup", resp.ToolCall.Name)
}
