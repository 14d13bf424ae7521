package engine

import "strings"

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	ModelOpenAIID          = "openai:gpt-5.2"
	ModelAnthropicSonnetID = "anthropic:claude-sonnet-4-5-20250901"
	ModelAnthropicHaikuID  = "anthropic:claude-haiku-4-5-20251001"
)

type ModelInfo struct {
	ModelID     string `json:"model_id"`
	ProviderID  string `json:"provider_id"`
	Model       string `json:"model"`
	DisplayName string `json:"display_name"`
}

var modelRegistry = map[string]ModelInfo{
	ModelOpenAIID: {
		ModelID:     ModelOpenAIID,
		ProviderID:  ProviderOpenAI,
		Model:       "gpt-5.2",
		DisplayName: "OpenAI GPT-5.2",
	},
	ModelAnthropicSonnetID: {
		ModelID:     ModelAnthropicSonnetID,
		ProviderID:  ProviderAnthropic,
		Model:       "claude-sonnet-4-5-20250901",
		DisplayName: "Claude Sonnet 4.5",
	},
	ModelAnthropicHaikuID: {
		ModelID:     ModelAnthropicHaikuID,
		ProviderID:  ProviderAnthropic,
		Model:       "claude-haiku-4-5-20251001",
		DisplayName: "Claude Haiku 4.5",
	},
}

func getModel(modelID string) (ModelInfo, bool) {
	info, ok := modelRegistry[strings.TrimSpace(modelID)]
	return info, ok
}

func listModels() []ModelInfo {
	ids := []string{ModelOpenAIID, ModelAnthropicSonnetID, ModelAnthropicHaikuID}
	models := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		models = append(models, modelRegistry[id])
	}
	return models
}
