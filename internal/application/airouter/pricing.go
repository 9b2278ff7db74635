package airouter

// priceRate is a provider's cost per 1000 prompt/completion tokens. Zero
// rates cover providers whose tier in use is free (groq, huggingface).
type priceRate struct {
	perKPrompt     float64
	perKCompletion float64
}

// defaultPricing holds blended, approximate per-1K-token rates for each
// provider's default model. These exist for relative cost accounting
// across providers, not for billing reconciliation.
var defaultPricing = map[string]priceRate{
	"groq":        {0, 0},
	"gemini":      {0.000075, 0.0003},
	"kimi":        {0.0012, 0.0012},
	"huggingface": {0, 0},
	"qwen":        {0.0005, 0.0005},
	"glm4":        {0.0001, 0.0001},
}

// cost estimates the dollar cost of a completion from a provider.
func cost(provider string, promptTokens, completionTokens int) float64 {
	rate, ok := defaultPricing[provider]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*rate.perKPrompt + float64(completionTokens)/1000*rate.perKCompletion
}
