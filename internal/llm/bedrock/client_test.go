package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"agenticrag/internal/llm"
)

func TestToConverseMessages_SplitsSystemFromTurns(t *testing.T) {
	msgs := []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}

	out, system := toConverseMessages(msgs)
	if system != "be terse" {
		t.Fatalf("expected system prompt extracted, got %q", system)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 conversation turns, got %d", len(out))
	}
	if out[0].Role != types.ConversationRoleUser {
		t.Fatalf("expected first turn to be user, got %v", out[0].Role)
	}
	if out[1].Role != types.ConversationRoleAssistant {
		t.Fatalf("expected second turn to be assistant, got %v", out[1].Role)
	}
}

func TestToConverseMessages_SkipsEmptyContent(t *testing.T) {
	msgs := []llm.Message{
		{Role: "user", Content: "   "},
		{Role: "assistant", Content: ""},
		{Role: "user", Content: "real question"},
	}

	out, _ := toConverseMessages(msgs)
	if len(out) != 1 {
		t.Fatalf("expected blank-content messages to be skipped, got %d turns", len(out))
	}
}

func TestClient_PickModel(t *testing.T) {
	c := &Client{model: "anthropic.claude-3-sonnet-20240229-v1:0"}

	if got := c.pickModel(""); got != c.model {
		t.Errorf("expected default model fallback, got %q", got)
	}
	if got := c.pickModel("amazon.titan-text-express-v1"); got != "amazon.titan-text-express-v1" {
		t.Errorf("expected override model to win, got %q", got)
	}
}
