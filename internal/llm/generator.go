package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/history"
	"github.com/murshid-dev/murshid/internal/retrieval"
)

// Answer is a generated reply plus its source citation; the citation
// is empty when no source is attributable.
type Answer struct {
	Text     string
	Citation string
}

type Config struct {
	BaseURL        string
	Token          string
	Model          string
	EmbeddingModel string
}

// Generator wraps an OpenAI-compatible completion backend (a local
// ollama works) for answering, translation, titling, and question
// embedding.
type Generator struct {
	model  *openai.LLM
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Generator, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.Token),
		openai.WithModel(cfg.Model),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if strings.TrimSpace(cfg.EmbeddingModel) != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, logger: logger}, nil
}

type answerPayload struct {
	Answer   string `json:"answer"`
	Citation string `json:"citation"`
}

// GenerateAnswer produces an answer grounded in the retrieved chunks.
// The model is asked for JSON carrying an answer and a citation; a
// response that fails to parse is treated as a plain answer with no
// citation.
func (g *Generator) GenerateAnswer(ctx context.Context, chunks []retrieval.Chunk, question string, chatHistory []history.Turn, targetLang string) (Answer, error) {
	var b strings.Builder
	b.WriteString("You are a bilingual (Arabic/English) tutor. Answer the question using ONLY the provided material.\n")
	if targetLang == "ar" {
		b.WriteString("Answer in Arabic.\n")
	} else {
		b.WriteString("Answer in English.\n")
	}
	b.WriteString("\nMaterial:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s", i+1, c.Content)
		if c.Source != "" {
			fmt.Fprintf(&b, " (source: %s)", c.Source)
		}
		b.WriteString("\n")
	}
	if len(chatHistory) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range chatHistory {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\n", question)
	b.WriteString(`Respond with a JSON object: {"answer": "...", "citation": "..."} where citation names the source material used (empty string if none).`)

	completion, err := llms.GenerateFromSinglePrompt(ctx, g.model, b.String())
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	completion = strings.TrimSpace(completion)
	var parsed answerPayload
	if err := json.Unmarshal([]byte(extractJSON(completion)), &parsed); err != nil || strings.TrimSpace(parsed.Answer) == "" {
		g.logger.Debug("answer was not valid JSON, using raw completion", zap.Error(err))
		return Answer{Text: completion}, nil
	}
	return Answer{Text: strings.TrimSpace(parsed.Answer), Citation: strings.TrimSpace(parsed.Citation)}, nil
}

// Complete runs a raw prompt-completion call; used for translation and
// session auto-titling.
func (g *Generator) Complete(ctx context.Context, prompt string) (string, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt)
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	return strings.TrimSpace(completion), nil
}

// Embed maps text into the embedding space used by the retrieval
// index.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.model.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding backend returned no vectors")
	}
	return vecs[0], nil
}

// extractJSON pulls the first {...} block out of a completion that may
// be wrapped in code fences or prose.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
