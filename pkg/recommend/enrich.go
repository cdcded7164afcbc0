package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	openai "github.com/sashabaranov/go-openai"

	"github.com/platinummonkey/cloudscope/pkg/observability"
)

const (
	enrichmentModel       = openai.GPT4oMini
	enrichmentTimeout     = 10 * time.Second
	enrichmentTemperature = 0.7
	enrichmentMaxTokens   = 1500
	enrichmentCacheTTL    = 24 * time.Hour

	// Only the most valuable findings are sent to the model
	maxEnrichedFindings = 5
	highValueSavings    = 1.00
)

// completionAPI is the slice of the OpenAI client the enricher needs
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Enricher attaches AI-generated guidance to high-value findings. Every
// failure mode degrades to returning the findings untouched; enrichment is
// never allowed to break the recommendations endpoint.
type Enricher struct {
	ai      completionAPI
	cache   *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewEnricher creates an enricher. apiKey may be empty and cache may be nil;
// both disable the corresponding behavior gracefully.
func NewEnricher(apiKey string, cache *redis.Client, logger *observability.Logger) *Enricher {
	e := &Enricher{cache: cache, logger: logger}
	if apiKey != "" {
		e.ai = openai.NewClient(apiKey)
	}
	return e
}

// WithMetrics attaches Prometheus metrics to the enricher
func (e *Enricher) WithMetrics(metrics *observability.Metrics) *Enricher {
	e.metrics = metrics
	return e
}

// Enrich attaches guidance to up to five high-value findings, consulting the
// cache first. The input slice is returned unchanged on any failure.
func (e *Enricher) Enrich(ctx context.Context, provider string, findings []*Finding) []*Finding {
	if e.ai == nil || len(findings) == 0 {
		return findings
	}

	key := e.cacheKey(provider, findings)
	if insights := e.cachedInsights(ctx, key); insights != nil {
		if e.metrics != nil {
			e.metrics.EnrichmentHitsTotal.Inc()
		}
		return applyInsights(findings, insights)
	}
	if e.metrics != nil {
		e.metrics.EnrichmentMissesTotal.Inc()
	}

	candidates := highValueFindings(findings)
	if len(candidates) == 0 {
		return findings
	}

	insights, err := e.generateInsights(ctx, provider, candidates)
	if err != nil {
		e.logger.WithError(err).Warn("recommendation enrichment failed")
		if e.metrics != nil {
			e.metrics.EnrichmentErrors.Inc()
		}
		return findings
	}

	e.storeInsights(ctx, key, insights)
	return applyInsights(findings, insights)
}

// cacheKey identifies a finding set by provider, count, and total savings
func (e *Enricher) cacheKey(provider string, findings []*Finding) string {
	total := 0.0
	for _, finding := range findings {
		total += finding.EstimatedSavings
	}
	return fmt.Sprintf("enrichment:%s_%d_%.2f", provider, len(findings), total)
}

func (e *Enricher) cachedInsights(ctx context.Context, key string) map[string]*AIInsight {
	if e.cache == nil {
		return nil
	}
	raw, err := e.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var insights map[string]*AIInsight
	if err := json.Unmarshal(raw, &insights); err != nil {
		return nil
	}
	return insights
}

func (e *Enricher) storeInsights(ctx context.Context, key string, insights map[string]*AIInsight) {
	if e.cache == nil || len(insights) == 0 {
		return
	}
	raw, err := json.Marshal(insights)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, raw, enrichmentCacheTTL).Err(); err != nil {
		e.logger.WithError(err).Warn("failed to cache enrichment insights")
	}
}

// highValueFindings picks up to five findings worth a model call. Input
// order is preserved: callers pass severity-sorted findings, so the most
// urgent candidates win the cap regardless of their savings.
func highValueFindings(findings []*Finding) []*Finding {
	candidates := []*Finding{}
	for _, finding := range findings {
		if finding.EstimatedSavings >= highValueSavings ||
			finding.Severity == SeverityCritical || finding.Severity == SeverityHigh {
			candidates = append(candidates, finding)
			if len(candidates) == maxEnrichedFindings {
				break
			}
		}
	}
	return candidates
}

func (e *Enricher) generateInsights(ctx context.Context, provider string, candidates []*Finding) (map[string]*AIInsight, error) {
	ctx, cancel := context.WithTimeout(ctx, enrichmentTimeout)
	defer cancel()

	payload, err := json.Marshal(candidates)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`You are a cloud cost optimization expert reviewing %s findings.
For each finding below, provide deeper guidance.

Findings:
%s

Respond with JSON only, in this exact shape:
{"insights": [{"id": "<finding id>", "insight": "<why this matters>", "action": "<concrete remediation steps>", "risks": "<what could go wrong>", "roi": "<expected payoff>"}]}`,
		provider, payload)

	resp, err := e.ai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       enrichmentModel,
		Temperature: enrichmentTemperature,
		MaxTokens:   enrichmentMaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	var parsed struct {
		Insights []struct {
			ID      string `json:"id"`
			Insight string `json:"insight"`
			Action  string `json:"action"`
			Risks   string `json:"risks"`
			ROI     string `json:"roi"`
		} `json:"insights"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parse enrichment response: %w", err)
	}

	insights := map[string]*AIInsight{}
	for _, item := range parsed.Insights {
		if item.ID == "" {
			continue
		}
		insights[item.ID] = &AIInsight{
			Insight: item.Insight,
			Action:  item.Action,
			Risks:   item.Risks,
			ROI:     item.ROI,
		}
	}
	return insights, nil
}

func applyInsights(findings []*Finding, insights map[string]*AIInsight) []*Finding {
	for _, finding := range findings {
		if insight, ok := insights[finding.ID]; ok {
			finding.AIInsight = insight
			finding.AIEnhanced = true
		}
	}
	return findings
}
