// Package claude implements intake.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/intake/internal/intake"
)

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 2
	// temperature is kept low so narratives stay close to the recorded factors
	temperature = 0.2
)

// Client implements intake.Provider for Claude.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a Claude client. Extra options are appended after the defaults,
// which lets tests point the client at a local server.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
		option.WithRequestTimeout(requestTimeout),
	}
	return &Client{
		sdk:   anthropic.NewClient(append(base, opts...)...),
		model: model,
	}
}

// Send implements intake.Provider.
func (c *Client) Send(ctx context.Context, req *intake.LLMRequest) (*intake.LLMResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    toSDKMessages(req.Messages),
		Temperature: anthropic.Float(temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("claude api error %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("claude: send request: %w", err)
	}
	return fromSDKResponse(msg), nil
}

func toSDKMessages(msgs []intake.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type == "text" {
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			}
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func fromSDKResponse(msg *anthropic.Message) *intake.LLMResponse {
	resp := &intake.LLMResponse{
		StopReason: intake.StopReason(msg.StopReason),
		Model:      string(msg.Model),
		Usage: intake.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, b := range msg.Content {
		if b.Type == "text" {
			resp.Content = append(resp.Content, intake.ContentBlock{Type: "text", Text: b.Text})
		}
	}
	return resp
}
