package llm

import (
	"fmt"
	"strings"

	"github.com/huang422/LineBot-VLM-GroupAgent/internal/config"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	OllamaBaseURL    string
	OllamaModel      string
	OpenAIAPIKey     string
	YandexOAuthToken string
	YandexFolderID   string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OllamaBaseURL:    cfg.OllamaBaseURL,
		OllamaModel:      cfg.OllamaModel,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		YandexOAuthToken: cfg.YandexOAuthToken,
		YandexFolderID:   cfg.YandexFolderID,
	}
}

func (f *Factory) CreateClient(provider string) (Client, error) {
	switch strings.ToLower(provider) {
	case string(config.ProviderOpenAI):
		return NewOpenAI(f.OpenAIAPIKey, f.OllamaBaseURL, f.OllamaModel), nil
	case string(config.ProviderYandex):
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
