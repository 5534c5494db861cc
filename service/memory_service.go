package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/askmygarmin/backend/core"
	"github.com/askmygarmin/backend/ports"
)

const detectionSystem = `You are a memory extraction assistant for a running coach AI. Identify information in an athlete's message that a coach would want to remember across future sessions.

Information worth remembering (explicit statements only - not hypothetical or general):
- Upcoming race events (name, date, distance)
- Training goals (target finish time, target event)
- Injuries or health issues the athlete mentions
- Athlete-supplied context not in Garmin data (training plan, coach instructions, etc.)
- Personal context relevant to training (schedule, travel, life stress, etc.)

Do NOT store:
- Questions or hypotheticals ("what if I...")
- Information already available in Garmin data (current pace, HRV, etc.)
- Vague statements ("I want to run more")
- Coach advice or AI responses (only athlete-supplied information)

Respond with a JSON object only (no markdown):
{
  "should_store": true | false,
  "key": "Short label, 2-5 words (e.g. 'Next Marathon', 'Injury History')",
  "content": "Full detail as the athlete stated it",
  "category": "race_event" | "goal" | "injury" | "training_context" | "personal"
}
If should_store is false, set key, content, and category to empty strings.`

// MemoryService owns the persistent athlete memories: CRUD over the store
// plus LLM-driven detection of memory-worthy statements in questions.
type MemoryService struct {
	store       ports.MemoryStore
	llm         anthropic.Client
	detectModel anthropic.Model
	enabled     bool
	log         *logrus.Logger
}

// NewMemoryService wires the store and the detection model. An empty API
// key disables detection; CRUD keeps working.
func NewMemoryService(store ports.MemoryStore, apiKey string, log *logrus.Logger) *MemoryService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &MemoryService{
		store:       store,
		detectModel: anthropic.Model("claude-haiku-4-5"),
		enabled:     apiKey != "",
		log:         log,
	}
	if s.enabled {
		s.llm = anthropic.NewClient(option.WithAPIKey(apiKey))
	}
	return s
}

// UserHash derives the storage key from the Garmin numeric user ID. Raw
// IDs never touch the store.
func UserHash(userID int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(userID, 10)))
	return hex.EncodeToString(sum[:])
}

// List returns the user's active memories, oldest first.
func (s *MemoryService) List(ctx context.Context, userID string) ([]*core.Memory, error) {
	return s.store.List(ctx, userID)
}

// Create persists a new memory.
func (s *MemoryService) Create(ctx context.Context, userID, key, content, category, sourceContext string) (*core.Memory, error) {
	if len(sourceContext) > 500 {
		sourceContext = sourceContext[:500]
	}
	now := time.Now().UTC()
	m := &core.Memory{
		ID:            uuid.New().String(),
		UserID:        userID,
		Key:           key,
		Content:       content,
		Category:      core.ParseMemoryCategory(category),
		SourceContext: sourceContext,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Update modifies an existing memory. Empty arguments leave the field
// untouched. Returns nil when no active memory matched.
func (s *MemoryService) Update(ctx context.Context, userID, id, key, content, category string) (*core.Memory, error) {
	m, err := s.store.Get(ctx, userID, id)
	if err != nil || m == nil {
		return nil, err
	}
	if key != "" {
		m.Key = key
	}
	if content != "" {
		m.Content = content
	}
	if category != "" {
		m.Category = core.ParseMemoryCategory(category)
	}
	m.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete soft-deletes a memory. Returns false when nothing matched.
func (s *MemoryService) Delete(ctx context.Context, userID, id string) (bool, error) {
	return s.store.SoftDelete(ctx, userID, id)
}

// findSimilarKey returns an active memory whose key matches case-
// insensitively, for dedup on detection.
func (s *MemoryService) findSimilarKey(ctx context.Context, userID, key string) (*core.Memory, error) {
	memories, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(key))
	for _, m := range memories {
		if strings.ToLower(strings.TrimSpace(m.Key)) == want {
			return m, nil
		}
	}
	return nil, nil
}

type detectionResult struct {
	ShouldStore bool   `json:"should_store"`
	Key         string `json:"key"`
	Content     string `json:"content"`
	Category    string `json:"category"`
}

// DetectAndStore runs a lightweight model call deciding whether the
// question contains a coach-relevant fact, and stores or updates it.
// Designed to run concurrently with the answer stream; every failure path
// is log-and-return-nil.
func (s *MemoryService) DetectAndStore(ctx context.Context, userID, question string) *core.Memory {
	if !s.enabled {
		return nil
	}

	resp, err := s.llm.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.detectModel,
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: detectionSystem}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(question)),
		},
	})
	if err != nil {
		s.log.WithError(err).Warn("memory detection call failed")
		return nil
	}

	raw := ""
	for _, block := range resp.Content {
		raw += block.Text
	}
	var result detectionResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &result); err != nil {
		s.log.WithError(err).Warn("memory detection returned non-JSON")
		return nil
	}
	if !result.ShouldStore {
		return nil
	}
	key := strings.TrimSpace(result.Key)
	content := strings.TrimSpace(result.Content)
	if key == "" || content == "" {
		return nil
	}

	if existing, err := s.findSimilarKey(ctx, userID, key); err == nil && existing != nil {
		updated, err := s.Update(ctx, userID, existing.ID, key, content, result.Category)
		if err != nil {
			s.log.WithError(err).Warn("memory update failed")
			return nil
		}
		return updated
	}

	source := question
	if len(source) > 200 {
		source = source[:200]
	}
	m, err := s.Create(ctx, userID, key, content, result.Category, source)
	if err != nil {
		s.log.WithError(err).Warn("memory create failed")
		return nil
	}
	return m
}

// FormatMemoriesForPrompt renders memories as a prompt section, or ""
// when there are none.
func FormatMemoriesForPrompt(memories []*core.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Athlete's Persistent Memory (coach notes across sessions)\n")
	b.WriteString("The following information was shared by the athlete in previous sessions.\n")
	b.WriteString("Use it to answer questions, but do not re-state it unless directly relevant.\n\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "[%s] %s: %s (category: %s)\n",
			m.CreatedAt.Format("2006-01-02"), m.Key, m.Content, m.Category)
	}
	return b.String()
}
