package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
	openai "creatorpulse/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI пишет черновик рассылки через Chat Completions.
type OpenAI struct {
	client      chatClient
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	now         func() time.Time
}

// NewOpenAI создаёт генератор на базе модели.
func NewOpenAI(client chatClient, model string, maxTokens int, temperature float32, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if maxTokens <= 0 {
		maxTokens = 1200
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, maxTokens: maxTokens, temperature: temperature, timeout: timeout, now: time.Now}
}

type draftPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

const systemPrompt = "You are a newsletter editor. Write only from the provided items, keep facts and links intact, never invent sources."

// Generate реализует domain.Generator.
func (g *OpenAI) Generate(ctx context.Context, req domain.GenerationRequest) (domain.Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          g.model,
		Temperature:    g.temperature,
		MaxTokens:      g.maxTokens,
		ResponseFormat: &openai.ResponseFormat{Type: openai.ResponseFormatJSONObject},
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return domain.Draft{}, fmt.Errorf("openai completion: %w", err)
	}
	content, err := resp.Text()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("openai completion: %w", err)
	}
	var parsed draftPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Draft{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	parsed.Title = strings.TrimSpace(parsed.Title)
	parsed.Body = strings.TrimSpace(parsed.Body)
	if parsed.Body == "" {
		return domain.Draft{}, fmt.Errorf("распаковка ответа LLM: пустое тело черновика")
	}
	now := g.now().UTC()
	if parsed.Title == "" {
		parsed.Title = draftTitle(req.Job.Topic, now)
	}
	return domain.Draft{
		ID:         uuid.New(),
		JobID:      req.Job.ID,
		Topic:      strings.TrimSpace(req.Job.Topic),
		Title:      parsed.Title,
		Body:       parsed.Body,
		EntryCount: len(req.Entries),
		CreatedAt:  now,
	}, nil
}

func buildPrompt(req domain.GenerationRequest) string {
	var b strings.Builder
	topic := strings.TrimSpace(req.Job.Topic)
	if topic == "" {
		topic = "general"
	}
	fmt.Fprintf(&b, "Write a newsletter draft about %q in markdown.\n", topic)
	b.WriteString(`Return JSON {"title": "...", "body": "..."} without explanations.` + "\n")
	if len(req.Spikes) > 0 {
		b.WriteString("\nSpiking right now (lead with these):\n")
		for _, s := range req.Spikes {
			fmt.Fprintf(&b, "- %s <%s> (%s)\n", s.ContentTitle, s.ContentURL, s.Reason)
		}
	}
	if len(req.Trends) > 0 {
		b.WriteString("\nTrending keywords:\n")
		for _, t := range req.Trends {
			fmt.Fprintf(&b, "- %s: %.2f\n", t.Keyword, t.Score)
		}
	}
	b.WriteString("\nItems:\n")
	for i, item := range req.Entries {
		e := item.Entry
		fmt.Fprintf(&b, "%d. [%s] %s <%s>\n", i+1, e.SourceType, e.Title, e.Link)
		if summary := strings.TrimSpace(e.Summary); summary != "" {
			b.WriteString("   " + clip(summary, 600) + "\n")
		}
	}
	return b.String()
}

var _ domain.Generator = (*OpenAI)(nil)
