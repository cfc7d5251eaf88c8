// Package telemetry collects per-call LLM usage metrics, aggregates them
// into session totals, estimates dollar cost from a pricing table, and
// renders session reports.
package telemetry

import (
	"math"

	"github.com/medtrail-ai/medtrail/pkg/models"
)

// DefaultPricing returns the built-in per-1k-token price table. Config may
// extend or override it.
func DefaultPricing() []models.ModelPricing {
	return []models.ModelPricing{
		{Model: "gpt-4o", PromptCost: 0.005, CompletionCost: 0.015},
		{Model: "gpt-4o-mini", PromptCost: 0.00015, CompletionCost: 0.0006},
		{Model: "gpt-4-turbo", PromptCost: 0.01, CompletionCost: 0.03},
		{Model: "gpt-4", PromptCost: 0.03, CompletionCost: 0.06},
		{Model: "gpt-3.5-turbo", PromptCost: 0.0005, CompletionCost: 0.0015},
	}
}

// priceTable resolves models to pricing, falling back to a default model
// when the requested one is unknown.
type priceTable struct {
	byModel      map[string]models.ModelPricing
	defaultModel string
}

func newPriceTable(overrides []models.ModelPricing, defaultModel string) *priceTable {
	t := &priceTable{
		byModel:      make(map[string]models.ModelPricing),
		defaultModel: defaultModel,
	}
	for _, p := range DefaultPricing() {
		t.byModel[p.Model] = p
	}
	for _, p := range overrides {
		t.byModel[p.Model] = p
	}
	return t
}

// lookup returns the pricing for model, or the default model's pricing when
// model is unknown. ok is false only when neither is priced.
func (t *priceTable) lookup(model string) (models.ModelPricing, bool) {
	if p, ok := t.byModel[model]; ok {
		return p, true
	}
	p, ok := t.byModel[t.defaultModel]
	return p, ok
}

// cost estimates the dollar cost of one call, rounded to six decimal
// places. Unpriceable calls cost zero.
func (t *priceTable) cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := t.lookup(model)
	if !ok {
		return 0
	}
	c := float64(promptTokens)/1000*p.PromptCost + float64(completionTokens)/1000*p.CompletionCost
	return math.Round(c*1e6) / 1e6
}
