package llm

import "fmt"

const (
	huggingFaceRouter = "https://router.huggingface.co/v1"
	huggingFaceModel  = "mistralai/Mixtral-8x7B-Instruct-v0.1"
)

// NewHuggingFaceProvider talks to the Hugging Face inference router through its OpenAI compatible API
func NewHuggingFaceProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Hugging Face API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = huggingFaceRouter
	}
	if config.Model == "" {
		config.Model = huggingFaceModel
	}
	return newChatProvider("huggingface", config), nil
}
