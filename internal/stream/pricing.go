package stream

// Pricing holds per-million-token prices in USD for one model
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPricing is the model pricing table used for cost accounting.
// Unknown models cost zero rather than failing the stream.
var defaultPricing = map[string]Pricing{
	"claude-opus-4-20250514":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-sonnet-4-20250514":   {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 0.80, OutputPerMTok: 4.0},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	"claude-3-7-sonnet-20250219": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
}

// Cost computes the dollar cost of a completed stream
func Cost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := defaultPricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*pricing.InputPerMTok +
		float64(outputTokens)/1e6*pricing.OutputPerMTok
}
