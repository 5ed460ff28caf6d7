package llm

import (
	"context"
	"fmt"

	"github.com/Morwran/yagpt"
)

// YandexClient serves text-only inference through YandexGPT. Multimodal
// requests are rejected as malformed since the backend cannot take images.
type YandexClient struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	return &YandexClient{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (c *YandexClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Image) > 0 {
		return Response{}, fmt.Errorf("%w: yandex provider does not support images", ErrMalformed)
	}

	var messages []yagpt.Message
	if req.SystemPrompt != "" {
		messages = append(messages, yagpt.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, yagpt.Message{Role: "user", Content: req.Prompt})

	resp, err := c.ya.CompletionWithCtx(ctx, c.iamToken, messages)
	if err != nil {
		return Response{}, fmt.Errorf("%w: yagpt completion: %v", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Response{}, fmt.Errorf("%w: yagpt returned empty response", ErrUnavailable)
	}
	out := Response{Content: resp.Alternatives[0].Message.Content, Model: yagpt.YaModelLite}
	out.PromptTokens = int(resp.Usage.InputTextTokens)
	out.CompletionTokens = int(resp.Usage.CompletionTokens)
	out.TotalTokens = int(resp.Usage.TotalTokens)
	return out, nil
}
