package llm

import (
	"errors"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// Dispatcher errors. The dispatcher never retries; the decision loop
// owns retry policy and branches on these.
var (
	ErrAuth      = errors.New("provider auth failed")
	ErrRateLimit = errors.New("provider rate limited")
	ErrTimeout   = errors.New("provider call timed out")
	ErrMalformed = errors.New("malformed provider response")
)

// ProviderSpec is the decrypted call target. The api key lives only in
// this short-lived struct, never in stored state.
type ProviderSpec struct {
	Variant  models.ProviderVariant
	Endpoint string
	Model    string
	APIKey   string
	Config   map[string]string
}

// Usage is the token accounting of one call. Estimated marks counts
// derived from ceil(chars/4) rather than reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Estimated    bool
}

// Result is the outcome of one provider call. LatencyMs is always set,
// even when the call failed, so billing can still record the attempt.
type Result struct {
	Text      string
	Usage     Usage
	LatencyMs int64
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsRateLimit reports whether err is a provider rate limit.
func IsRateLimit(err error) bool { return errors.Is(err, ErrRateLimit) }

// EstimateTokens approximates a token count as ceil(len/4); used when
// a provider reports no usage and by the summarizer's budget check.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
