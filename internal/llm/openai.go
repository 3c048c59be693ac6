package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider using the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		client: &client,
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{
		ToolCalls: true,
		Streaming: true,
	}
}

func (p *OpenAIProvider) buildParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
		Messages: buildOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
		if choice := buildOpenAIToolChoice(req.ToolChoice); choice != nil {
			params.ToolChoice = *choice
		}
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(float64(req.TopP))
	}
	return params
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := p.buildParams(req)
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		var lastUsage *Usage

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				lastUsage = &Usage{
					InputTokens:       int(chunk.Usage.PromptTokens),
					OutputTokens:      int(chunk.Usage.CompletionTokens),
					CachedInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
				for _, call := range choice.Delta.ToolCalls {
					events <- Event{Type: EventToolCallDelta, Delta: &ToolCallDelta{
						Index: int(call.Index),
						ID:    call.ID,
						Name:  call.Function.Name,
						Args:  call.Function.Arguments,
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}

		if lastUsage != nil {
			events <- Event{Type: EventUsage, Use: lastUsage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	params := p.buildParams(req)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("openai completion error: %w", err)
	}

	var completion Completion
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		completion.Text = msg.Content
		for _, call := range msg.ToolCalls {
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			})
		}
	}
	if resp.Usage.TotalTokens > 0 {
		completion.Usage = &Usage{
			InputTokens:       int(resp.Usage.PromptTokens),
			OutputTokens:      int(resp.Usage.CompletionTokens),
			CachedInputTokens: int(resp.Usage.PromptTokensDetails.CachedTokens),
		}
	}
	return completion, nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := messageText(msg); text != "" {
				result = append(result, openai.SystemMessage(text))
			}
		case RoleUser:
			if text := messageText(msg); text != "" {
				result = append(result, openai.UserMessage(text))
			}
		case RoleAssistant:
			result = append(result, buildOpenAIAssistantMessage(msg))
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
			}
		}
	}
	return result
}

func buildOpenAIAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, part := range msg.Parts {
		if part.Type != PartToolCall || part.ToolCall == nil {
			continue
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: part.ToolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      part.ToolCall.Name,
				Arguments: string(part.ToolCall.Arguments),
			},
		})
	}

	text := messageText(msg)
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text)
	}

	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.Schema),
			},
		})
	}
	return tools
}

func buildOpenAIToolChoice(choice ToolChoice) *openai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice.Mode {
	case ToolChoiceNone:
		return &openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case ToolChoiceAuto:
		return &openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	case ToolChoiceRequired:
		return &openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	case ToolChoiceName:
		return &openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}
	}
	return nil
}

// messageText concatenates the text parts of a message.
func messageText(msg Message) string {
	var text string
	for _, part := range msg.Parts {
		if part.Type == PartText {
			text += part.Text
		}
	}
	return text
}
