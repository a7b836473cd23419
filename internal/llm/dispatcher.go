package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// CallTimeout is the hard ceiling on one provider round trip.
const CallTimeout = 60 * time.Second

// Caller is the contract the rest of the system depends on: prompt in,
// text plus usage out. All variant-specific HTTP shaping stays behind
// it.
type Caller interface {
	Call(ctx context.Context, spec *ProviderSpec, prompt string) (*Result, error)
}

// Dispatcher shapes requests per provider variant and extracts text
// and token usage from the responses.
type Dispatcher struct {
	client *resty.Client
	log    zerolog.Logger
}

// NewDispatcher builds a dispatcher with the hard call timeout.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client: resty.New().SetTimeout(CallTimeout),
		log:    log,
	}
}

// Call invokes the provider once. On failure the returned Result still
// carries estimated input usage and measured latency so the caller can
// write a best-effort billing row. The dispatcher does not retry.
func (d *Dispatcher) Call(ctx context.Context, spec *ProviderSpec, prompt string) (*Result, error) {
	shape := resolveShape(spec)

	reqURL, body, headers := shapeRequest(shape, spec, prompt)

	start := time.Now()
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(reqURL)
	latency := time.Since(start).Milliseconds()

	fallback := &Result{
		Usage:     Usage{InputTokens: EstimateTokens(prompt), Estimated: true},
		LatencyMs: latency,
	}

	if err != nil {
		if isTimeoutErr(err) {
			return fallback, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fallback, fmt.Errorf("provider call failed: %w", err)
	}

	if resp.StatusCode() >= 400 {
		d.log.Warn().
			Int("status", resp.StatusCode()).
			Str("variant", string(spec.Variant)).
			Str("model", spec.Model).
			Msg("provider returned error status")
		switch resp.StatusCode() {
		case 401, 403:
			return fallback, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode())
		case 429:
			return fallback, fmt.Errorf("%w: status %d", ErrRateLimit, resp.StatusCode())
		default:
			return fallback, fmt.Errorf("provider returned status %d", resp.StatusCode())
		}
	}

	text, usage, err := parseResponse(shape, resp.Body())
	if err != nil {
		return fallback, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if usage == nil {
		usage = &Usage{
			InputTokens:  EstimateTokens(prompt),
			OutputTokens: EstimateTokens(text),
			Estimated:    true,
		}
	}

	return &Result{Text: text, Usage: *usage, LatencyMs: latency}, nil
}

// resolveShape maps a variant to the wire shape it speaks. grok and
// local speak the openai shape; custom picks via config.
func resolveShape(spec *ProviderSpec) models.ProviderVariant {
	switch spec.Variant {
	case models.VariantGrok, models.VariantLocal:
		return models.VariantOpenAI
	case models.VariantCustom:
		if s, ok := spec.Config["shape"]; ok {
			switch models.ProviderVariant(s) {
			case models.VariantAnthropic:
				return models.VariantAnthropic
			case models.VariantGemini:
				return models.VariantGemini
			}
		}
		return models.VariantOpenAI
	default:
		return spec.Variant
	}
}

func shapeRequest(shape models.ProviderVariant, spec *ProviderSpec, prompt string) (reqURL string, body any, headers map[string]string) {
	headers = map[string]string{}
	base := strings.TrimSuffix(spec.Endpoint, "/")

	switch shape {
	case models.VariantAnthropic:
		reqURL = base + "/messages"
		headers["x-api-key"] = spec.APIKey
		headers["anthropic-version"] = "2023-06-01"
		body = map[string]any{
			"model":      spec.Model,
			"max_tokens": 4096,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
	case models.VariantGemini:
		reqURL = fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, spec.Model, url.QueryEscape(spec.APIKey))
		body = map[string]any{
			"contents": []map[string]any{
				{"parts": []map[string]any{{"text": prompt}}},
			},
		}
	default: // openai shape
		reqURL = base + "/chat/completions"
		if spec.Variant != models.VariantLocal && spec.APIKey != "" {
			headers["Authorization"] = "Bearer " + spec.APIKey
		}
		body = map[string]any{
			"model": spec.Model,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
	}

	// Custom providers may pin extra headers via "header:<name>" config
	// entries.
	for k, v := range spec.Config {
		if name, ok := strings.CutPrefix(k, "header:"); ok {
			headers[name] = v
		}
	}
	return reqURL, body, headers
}

func parseResponse(shape models.ProviderVariant, raw []byte) (string, *Usage, error) {
	switch shape {
	case models.VariantAnthropic:
		var r struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage *struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return "", nil, err
		}
		if len(r.Content) == 0 {
			return "", nil, fmt.Errorf("empty content")
		}
		var usage *Usage
		if r.Usage != nil {
			usage = &Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens}
		}
		return r.Content[0].Text, usage, nil

	case models.VariantGemini:
		var r struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
			UsageMetadata *struct {
				PromptTokenCount     int `json:"promptTokenCount"`
				CandidatesTokenCount int `json:"candidatesTokenCount"`
			} `json:"usageMetadata"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return "", nil, err
		}
		if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
			return "", nil, fmt.Errorf("empty candidates")
		}
		var usage *Usage
		if r.UsageMetadata != nil && r.UsageMetadata.PromptTokenCount > 0 {
			usage = &Usage{
				InputTokens:  r.UsageMetadata.PromptTokenCount,
				OutputTokens: r.UsageMetadata.CandidatesTokenCount,
			}
		}
		return r.Candidates[0].Content.Parts[0].Text, usage, nil

	default:
		var r struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return "", nil, err
		}
		if len(r.Choices) == 0 {
			return "", nil, fmt.Errorf("empty choices")
		}
		var usage *Usage
		if r.Usage != nil && r.Usage.PromptTokens > 0 {
			usage = &Usage{InputTokens: r.Usage.PromptTokens, OutputTokens: r.Usage.CompletionTokens}
		}
		return r.Choices[0].Message.Content, usage, nil
	}
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded || strings.Contains(err.Error(), "context deadline exceeded") {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}
