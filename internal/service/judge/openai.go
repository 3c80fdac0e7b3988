package judge

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/zhouzirui/moodtune/backend/internal/config"
)

// openAICompleter uses the Responses API with a strict JSON schema per call.
type openAICompleter struct {
	client *openai.Client
	model  string
}

func newOpenAICompleter(cfg config.OpenAIConfig) *openAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &openAICompleter{client: &client, model: cfg.Model}
}

func (c *openAICompleter) complete(ctx context.Context, req completion) (string, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := responses.EasyInputMessageRoleUser
		switch m.Role {
		case roleSystem:
			role = responses.EasyInputMessageRoleSystem
		case roleAssistant:
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, role))
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(512),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   req.Name,
					Schema: req.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses call failed: %w", err)
	}
	return resp.OutputText(), nil
}
