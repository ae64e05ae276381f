package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
)

// Usage hash fields
const (
	fieldInputTokens  = "input_tokens"
	fieldOutputTokens = "output_tokens"
	fieldRequests     = "requests"
	fieldCostMicros   = "cost_micros" // USD * 1e6, kept integral for HINCRBY
)

// idempotencyTTL bounds how long replayed message keys are remembered
const idempotencyTTL = 24 * time.Hour

// Record is one completed request's accounting
type Record struct {
	UserID       string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Summary is a user's accumulated usage for one month
type Summary struct {
	UserID       string
	Period       string
	InputTokens  int64
	OutputTokens int64
	Requests     int64
	CostUSD      float64
}

// Recorder accumulates per-user token and cost totals in Redis and tracks
// idempotency keys for replayed messages
type Recorder struct {
	redis  *store.RedisClient
	logger *logging.Logger
}

// NewRecorder creates a usage recorder
func NewRecorder(redis *store.RedisClient, logger *logging.Logger) *Recorder {
	return &Recorder{
		redis:  redis,
		logger: logger,
	}
}

func usageKey(userID, period string) string {
	return fmt.Sprintf("usage:%s:%s", userID, period)
}

func modelKey(userID, period, model string) string {
	return fmt.Sprintf("usage:%s:%s:model:%s", userID, period, model)
}

func currentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

// Add folds one request's usage into the user's monthly totals
func (r *Recorder) Add(ctx context.Context, rec Record) error {
	if rec.UserID == "" {
		return errors.NewValidationError("usage record requires a user ID")
	}

	period := currentPeriod()
	costMicros := int64(rec.CostUSD * 1e6)

	pipe := r.redis.Client().Pipeline()
	for _, key := range []string{usageKey(rec.UserID, period), modelKey(rec.UserID, period, rec.Model)} {
		pipe.HIncrBy(ctx, key, fieldInputTokens, rec.InputTokens)
		pipe.HIncrBy(ctx, key, fieldOutputTokens, rec.OutputTokens)
		pipe.HIncrBy(ctx, key, fieldRequests, 1)
		pipe.HIncrBy(ctx, key, fieldCostMicros, costMicros)
		// usage keys expire well after the billing period closes
		pipe.Expire(ctx, key, 90*24*time.Hour)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewInternalError("failed to record usage").WithCause(err)
	}

	r.logger.Debug("usage recorded",
		"user_id", rec.UserID,
		"model", rec.Model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
	)
	return nil
}

// Monthly returns a user's totals for the given period ("2006-01" format);
// an empty period means the current month
func (r *Recorder) Monthly(ctx context.Context, userID, period string) (*Summary, error) {
	if period == "" {
		period = currentPeriod()
	}

	fields, err := r.redis.Client().HGetAll(ctx, usageKey(userID, period)).Result()
	if err != nil {
		return nil, errors.NewInternalError("failed to load usage").WithCause(err)
	}

	s := &Summary{UserID: userID, Period: period}
	s.InputTokens = parseField(fields, fieldInputTokens)
	s.OutputTokens = parseField(fields, fieldOutputTokens)
	s.Requests = parseField(fields, fieldRequests)
	s.CostUSD = float64(parseField(fields, fieldCostMicros)) / 1e6
	return s, nil
}

func parseField(fields map[string]string, name string) int64 {
	v, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// MarkSeen records an idempotency key, returning true if it was new. A
// false return means the message is a replay that already arrived.
func (r *Recorder) MarkSeen(ctx context.Context, idempotencyKey string) (bool, error) {
	if idempotencyKey == "" {
		return true, nil
	}

	key := fmt.Sprintf("idem:%s", idempotencyKey)
	fresh, err := r.redis.Client().SetNX(ctx, key, 1, idempotencyTTL).Result()
	if err != nil {
		return false, errors.NewInternalError("failed to check idempotency key").WithCause(err)
	}
	return fresh, nil
}
