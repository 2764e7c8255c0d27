package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type ComposeInput struct {
	SectionTitle string
	Baseline     string
	Chunks       []Chunk
	Facts        PlanningFacts
	Length       models.ContentLength
}

type ComposeResult struct {
	Content         string
	SourceChunkIds  []string
	SourceRelevance map[string]float64
}

// Composer produces the final ai_assisted section content from the template
// baseline plus retrieved chunks. Timeouts/retries belong to the
// implementation; errors surface as per-section failures.
type Composer interface {
	ComposeSection(ctx context.Context, input ComposeInput) (ComposeResult, error)
}

// OpenAIComposer implements Composer using the official openai-go SDK
// (chat completions).
type OpenAIComposer struct {
	Model string
	Opts  []option.RequestOption
}

func NewOpenAIComposerFromEnv() (*OpenAIComposer, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("openai api key missing; set OPENAI_API_KEY")
	}
	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIComposer{Model: model, Opts: opts}, nil
}

const composerSystemPrompt = "You are a technical writer for construction planning reports. " +
	"Rewrite the provided baseline section so it reads as polished report prose, " +
	"grounded strictly in the baseline facts and the numbered source passages. " +
	"Do not invent project facts. Answer with the section content only, in Markdown."

func (o *OpenAIComposer) ComposeSection(ctx context.Context, input ComposeInput) (ComposeResult, error) {
	client := openai.NewClient(o.Opts...)

	user := buildComposerUserPrompt(input)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(composerSystemPrompt),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return ComposeResult{}, err
	}
	if len(resp.Choices) == 0 {
		return ComposeResult{}, errors.New("openai: empty choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return ComposeResult{}, errors.New("openai: empty section content")
	}

	return ComposeResult{
		Content:         content,
		SourceChunkIds:  chunkIds(input.Chunks),
		SourceRelevance: chunkRelevance(input.Chunks),
	}, nil
}

func buildComposerUserPrompt(input ComposeInput) string {
	var sb strings.Builder
	sb.WriteString("Section: " + input.SectionTitle + "\n")
	if name := input.Facts.DisciplineName(); name != "" {
		sb.WriteString("Discipline: " + name + "\n")
	}
	if name := input.Facts.TradeName(); name != "" {
		sb.WriteString("Trade: " + name + "\n")
	}
	if input.Length == models.ContentLengthExtended {
		sb.WriteString("Target length: detailed, several paragraphs.\n")
	} else {
		sb.WriteString("Target length: concise, one or two paragraphs.\n")
	}
	sb.WriteString("\nBaseline:\n")
	sb.WriteString(input.Baseline)
	sb.WriteString("\n")
	if len(input.Chunks) > 0 {
		sb.WriteString("\nSource passages:\n")
		for i, chunk := range input.Chunks {
			sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, utils.TruncateRunes(chunk.Text, 1200)))
		}
	}
	return sb.String()
}

func chunkIds(chunks []Chunk) []string {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.Id)
	}
	return ids
}

func chunkRelevance(chunks []Chunk) map[string]float64 {
	m := make(map[string]float64, len(chunks))
	for _, c := range chunks {
		m[c.Id] = c.Relevance
	}
	return m
}
