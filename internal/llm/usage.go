package llm

import "strings"

// Usage is the token accounting reported by the provider for one request,
// or the sum over several.
type Usage struct {
	InputTokens      int `json:"input_tokens" cbor:"input_tokens"`
	OutputTokens     int `json:"output_tokens" cbor:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty" cbor:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty" cbor:"cache_write_tokens,omitempty"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
	}
}

// Pricing is the price of a model in US dollars per million tokens.
type Pricing struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// Cost returns the dollar cost of u at p.
func (p Pricing) Cost(u Usage) float64 {
	return p.Input/1e6*float64(u.InputTokens) +
		p.Output/1e6*float64(u.OutputTokens) +
		p.CacheWrite/1e6*float64(u.CacheWriteTokens) +
		p.CacheRead/1e6*float64(u.CacheReadTokens)
}

var modelPricing = []struct {
	prefix  string
	pricing Pricing
}{
	{"claude-opus-4", Pricing{Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.5}},
	{"claude-sonnet-4", Pricing{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}},
	{"claude-3-7-sonnet", Pricing{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}},
	{"claude-3-5-sonnet", Pricing{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}},
	{"claude-haiku-4", Pricing{Input: 1, Output: 5, CacheWrite: 1.25, CacheRead: 0.1}},
	{"claude-3-5-haiku", Pricing{Input: 0.8, Output: 4, CacheWrite: 1, CacheRead: 0.08}},
}

// PricingFor returns the pricing of a model id. Unknown models report
// false and a zero Pricing.
func PricingFor(model string) (Pricing, bool) {
	for _, p := range modelPricing {
		if strings.HasPrefix(model, p.prefix) {
			return p.pricing, true
		}
	}
	return Pricing{}, false
}
