package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/platinummonkey/cloudscope/pkg/inventory"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

const (
	chatModel       = openai.GPT4oMini
	chatTimeout     = 15 * time.Second
	chatMaxTokens   = 1000
	chatTemperature = 0.5

	// How many prior turns accompany each question
	historyWindow = 10
)

// ErrAssistantUnavailable is returned when no API key is configured
var ErrAssistantUnavailable = errors.New("chat assistant is not configured")

// completionAPI is the slice of the OpenAI client the service needs
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Service answers questions about a client's cloud footprint, grounding the
// model in the current inventory summary and recent conversation history
type Service struct {
	store     *Store
	inventory *inventory.Service
	ai        completionAPI
	logger    *observability.Logger
	now       func() time.Time
}

// NewService creates a chat service. apiKey may be empty, which disables the
// assistant but keeps history readable.
func NewService(store *Store, inv *inventory.Service, apiKey string, logger *observability.Logger) *Service {
	s := &Service{store: store, inventory: inv, logger: logger, now: time.Now}
	if apiKey != "" {
		s.ai = openai.NewClient(apiKey)
	}
	return s
}

// WithClock overrides the time source, used by tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ask records the user's question, asks the model with inventory context,
// records the reply, and returns both messages
func (s *Service) Ask(ctx context.Context, userID, clientID int64, question string) (*Message, error) {
	if s.ai == nil {
		return nil, ErrAssistantUnavailable
	}

	inv, err := s.inventory.GetInventory(ctx, clientID, false)
	if err != nil {
		return nil, err
	}

	history, err := s.store.History(ctx, clientID, historyWindow)
	if err != nil {
		return nil, err
	}

	userMessage := &Message{
		ClientID:  clientID,
		UserID:    userID,
		Role:      RoleUser,
		Content:   question,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Save(ctx, userMessage); err != nil {
		return nil, err
	}

	reply, err := s.complete(ctx, inv, history, question)
	if err != nil {
		return nil, err
	}

	assistantMessage := &Message{
		ClientID:  clientID,
		UserID:    userID,
		Role:      RoleAssistant,
		Content:   reply,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Save(ctx, assistantMessage); err != nil {
		return nil, err
	}
	return assistantMessage, nil
}

// History returns a client's recent conversation, oldest first
func (s *Service) History(ctx context.Context, clientID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.History(ctx, clientID, limit)
}

// Clear wipes a client's conversation history
func (s *Service) Clear(ctx context.Context, clientID int64) (int64, error) {
	return s.store.Clear(ctx, clientID)
}

func (s *Service) complete(ctx context.Context, inv *inventory.Response, history []*Message, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	summaryJSON, _ := json.Marshal(inv.Summary)
	system := fmt.Sprintf(`You are a cloud infrastructure assistant for the client %q (%s).
Current resource counts by category and type:
%s

Answer questions about this client's cloud footprint concisely. If the
inventory does not contain the answer, say so rather than guessing.`,
		inv.ClientName, inv.Provider, summaryJSON)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})

	resp, err := s.ai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       chatModel,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
