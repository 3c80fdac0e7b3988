package judge

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// einoCompleter runs completions through a compiled eino chain. The structured
// output contract is carried in the system prompt.
type einoCompleter struct {
	chain compose.Runnable[[]*schema.Message, *schema.Message]
}

func newEinoCompleter(ctx context.Context, chatModel model.ChatModel) (*einoCompleter, error) {
	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile judge chain: %w", err)
	}
	return &einoCompleter{chain: runnable}, nil
}

func (c *einoCompleter) complete(ctx context.Context, req completion) (string, error) {
	msg, err := c.chain.Invoke(ctx, toSchemaMessages(req.Messages))
	if err != nil {
		return "", fmt.Errorf("failed to run judge chain: %w", err)
	}
	if msg == nil {
		return "", ErrEmptyOutput
	}
	return msg.Content, nil
}

func toSchemaMessages(msgs []promptMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case roleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case roleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
