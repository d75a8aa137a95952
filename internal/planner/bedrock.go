package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockAPI is the Converse call used by Bedrock.
type BedrockAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock adapts the Bedrock Converse API to ChatModel.
type Bedrock struct {
	client  BedrockAPI
	modelID string
}

func NewBedrock(client BedrockAPI, modelID string) *Bedrock {
	return &Bedrock{client: client, modelID: modelID}
}

func (b *Bedrock) Converse(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	msgs, err := toBedrockMessages(req.Messages)
	if err != nil {
		return ChatResponse{}, err
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.modelID),
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.MaxTokens > 0 {
		in.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if len(req.Tools) > 0 {
		tools := make([]types.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.Schema)},
			}})
		}
		in.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}

	out, err := b.client.Converse(ctx, in)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("bedrock converse: %w", err)
	}
	output, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ChatResponse{}, fmt.Errorf("bedrock converse: unexpected output %T", out.Output)
	}
	msg, err := fromBedrockMessage(output.Value)
	if err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Message: msg, Truncated: out.StopReason == types.StopReasonMaxTokens}, nil
}

func toBedrockMessages(msgs []Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		var content []types.ContentBlock
		if m.Text != "" {
			content = append(content, &types.ContentBlockMemberText{Value: m.Text})
		}
		for _, c := range m.ToolCalls {
			var input any = map[string]any{}
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &input); err != nil {
					return nil, fmt.Errorf("tool call %s input: %w", c.ID, err)
				}
			}
			content = append(content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(c.ID),
				Name:      aws.String(c.Name),
				Input:     document.NewLazyDocument(input),
			}})
		}
		for _, r := range m.ToolResults {
			status := types.ToolResultStatusSuccess
			if r.IsError {
				status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(r.CallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: r.Content}},
				Status:    status,
			}})
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out, nil
}

func fromBedrockMessage(m types.Message) (Message, error) {
	msg := Message{Role: RoleAssistant}
	var text []string
	for _, block := range m.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text = append(text, b.Value)
		case *types.ContentBlockMemberToolUse:
			input := json.RawMessage("{}")
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return Message{}, fmt.Errorf("decode tool input: %w", err)
				}
				input = raw
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:    aws.ToString(b.Value.ToolUseId),
				Name:  aws.ToString(b.Value.Name),
				Input: input,
			})
		}
	}
	msg.Text = strings.Join(text, "\n")
	return msg, nil
}

var _ ChatModel = (*Bedrock)(nil)
