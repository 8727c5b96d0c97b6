package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"storyloom/internal/generation"
)

// Chat implements generation.Chatter. History is replayed before message so
// the model keeps conversational context.
func (c *Client) Chat(ctx context.Context, persona string, history []generation.ChatMessage, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("gemini chat: message required")
	}
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := turn.Role
		if role != generation.RoleModel {
			role = generation.RoleUser
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: turn.Text}}})
	}
	contents = append(contents, userContent(&genai.Part{Text: message}))

	resp, err := c.generate(ctx, "gemini chat", c.cfg.ChatModel, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: generation.PersonaInstruction(persona)}}},
	})
	if err != nil {
		return "", err
	}
	reply := responseText(resp)
	if reply == "" {
		return "", fmt.Errorf("gemini chat: empty reply (%s)", responseReason(resp))
	}
	return reply, nil
}
