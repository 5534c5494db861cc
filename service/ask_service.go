package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/askmygarmin/backend/garmin"
	"github.com/askmygarmin/backend/ports"
)

// detectTimeout bounds the background memory-detection call so it cannot
// outlive the answer by much.
const detectTimeout = 30 * time.Second

// ChatMessage is one turn of conversation history from the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskService answers natural-language questions: it fetches live Garmin
// data with the caller's credential, assembles the coach prompt, and
// streams model output straight to the response.
type AskService struct {
	provider ports.Provider
	memories *MemoryService
	llm      anthropic.Client
	model    anthropic.Model
	enabled  bool
	log      *logrus.Logger
}

// NewAskService wires the provider, memory service, and model client. An
// empty API key leaves the service constructed but refusing questions.
func NewAskService(provider ports.Provider, memories *MemoryService, apiKey string, log *logrus.Logger) *AskService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &AskService{
		provider: provider,
		memories: memories,
		model:    anthropic.Model("claude-sonnet-4-6"),
		enabled:  apiKey != "",
		log:      log,
	}
	if s.enabled {
		s.llm = anthropic.NewClient(option.WithAPIKey(apiKey))
	}
	return s
}

// Ask streams the model's answer to w. The memory detection call runs
// concurrently with the stream and never affects the answer.
func (s *AskService) Ask(ctx context.Context, cred *garmin.Credential, question string, history []ChatMessage, w io.Writer) error {
	if !s.enabled {
		return fmt.Errorf("no model API key configured")
	}

	data, err := s.provider.FetchAll(ctx, cred)
	if err != nil {
		return err
	}

	userID := ""
	memorySection := ""
	if s.memories != nil {
		if profile, err := s.provider.Profile(ctx, cred); err == nil {
			userID = UserHash(profile.UserID)
			if mems, err := s.memories.List(ctx, userID); err == nil {
				memorySection = FormatMemoriesForPrompt(mems)
			}
		}
	}

	if s.memories != nil && userID != "" {
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
			defer cancel()
			if m := s.memories.DetectAndStore(dctx, userID, question); m != nil {
				s.log.WithField("key", m.Key).Info("stored athlete memory")
			}
		}()
	}

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(question)))

	stream := s.llm.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: BuildSystemPrompt(data, memorySection)}},
		Messages:  messages,
	})

	flusher, _ := w.(http.Flusher)
	for stream.Next() {
		event := stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if _, err := io.WriteString(w, deltaVariant.Text); err != nil {
					return err
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("model stream: %w", err)
	}
	return nil
}
