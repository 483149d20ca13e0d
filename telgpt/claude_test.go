package telgpt

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClaudeMessages struct {
	params   anthropic.MessageNewParams
	response *anthropic.Message
	err      error
}

func (f *fakeClaudeMessages) New(
	_ context.Context,
	body anthropic.MessageNewParams,
	_ ...option.RequestOption,
) (*anthropic.Message, error) {
	f.params = body
	return f.response, f.err
}

func claudeResponse(texts ...string) *anthropic.Message {
	msg := &anthropic.Message{StopReason: anthropic.StopReasonEndTurn}
	for _, t := range texts {
		msg.Content = append(msg.Content, anthropic.ContentBlockUnion{Type: "text", Text: t})
	}
	return msg
}

func newTestClaude(t *testing.T, messages ClaudeMessages) *Claude {
	t.Helper()
	return &Claude{
		unsupportedOperations: unsupportedOperations{provider: ProviderClaude},
		messages:              messages,
		config:                &ClaudeConfig{Token: "claude-token", Model: DefaultClaudeModel},
		logger:                newTestLogger(t),
	}
}

func systemTexts(blocks []anthropic.TextBlockParam) []string {
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	return texts
}

func TestClaude_Question(t *testing.T) {
	messages := &fakeClaudeMessages{response: claudeResponse("Hi ", "there")}
	c := newTestClaude(t, messages)

	result := c.Question(context.Background(), "", "Hello", PersonaVRChat.SystemText())
	require.True(t, result.OK(), "unexpected error: %v", result.Error)
	assert.Equal(t, "Hi there", result.Response)

	p := messages.params
	assert.Equal(t, anthropic.Model(DefaultClaudeModel), p.Model)
	assert.Equal(t, int64(DefaultClaudeMaxTokens), p.MaxTokens, "unset max tokens uses the default")
	assert.InDelta(t, claudeTemperature, p.Temperature.Value, 0.001)
	assert.Equal(t, []string{languageInstruction, PersonaVRChat.SystemText()}, systemTexts(p.System))

	require.Len(t, p.Messages, 1)
	assert.Equal(t, anthropic.MessageParamRoleUser, p.Messages[0].Role)
	require.Len(t, p.Messages[0].Content, 1)
	require.NotNil(t, p.Messages[0].Content[0].OfText)
	assert.Equal(t, "Hello", p.Messages[0].Content[0].OfText.Text)
}

func TestClaude_Conversation(t *testing.T) {
	messages := &fakeClaudeMessages{response: claudeResponse("fine")}
	c := newTestClaude(t, messages)
	c.config.MaxTokens = 1024

	result := c.Conversation(
		context.Background(),
		"claude-3-5-haiku-latest",
		[]Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "Hello"},
			{Role: RoleAssistant, Content: "Hi there"},
			{Role: RoleUser, Content: "how are you?"},
		},
	)
	require.True(t, result.OK())
	assert.Equal(t, "fine", result.Response)

	p := messages.params
	assert.Equal(t, anthropic.Model("claude-3-5-haiku-latest"), p.Model)
	assert.Equal(t, int64(1024), p.MaxTokens)
	assert.Equal(t, []string{languageInstruction, "be brief"}, systemTexts(p.System))

	roles := make([]anthropic.MessageParamRole, 0, len(p.Messages))
	for _, m := range p.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(
		t,
		[]anthropic.MessageParamRole{
			anthropic.MessageParamRoleUser,
			anthropic.MessageParamRoleAssistant,
			anthropic.MessageParamRoleUser,
		},
		roles,
	)
}

func TestClaude_Errors(t *testing.T) {
	tests := []struct {
		name     string
		messages *fakeClaudeMessages
	}{
		{name: "api error", messages: &fakeClaudeMessages{err: errors.New("overloaded")}},
		{name: "nil response", messages: &fakeClaudeMessages{}},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				result := newTestClaude(t, tc.messages).Question(context.Background(), "", "Hello", "")
				require.False(t, result.OK())
				assert.Equal(t, ErrorCodeUnknown, result.Error.Code)
				assert.Contains(t, result.Error.Message, "Claude API Error: ")
			},
		)
	}
}

func TestClaude_SkipsNonTextBlocks(t *testing.T) {
	resp := claudeResponse("answer")
	resp.Content = append(resp.Content, anthropic.ContentBlockUnion{Type: "tool_use", Text: "ignored"})
	c := newTestClaude(t, &fakeClaudeMessages{response: resp})

	result := c.Question(context.Background(), "", "Hello", "")
	require.True(t, result.OK())
	assert.Equal(t, "answer", result.Response)
}
