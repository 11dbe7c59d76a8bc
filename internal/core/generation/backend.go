// Package generation turns an assembled context into draft entities through
// an external text generator.
package generation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/common"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/llm"
	"github.com/agenthands/canon/internal/logging"
)

type Request struct {
	Context         *model.GenerationContext
	ContextMarkdown string
	// Prompt is the user's free-text instruction; may be empty.
	Prompt     string
	TargetType model.EntityType
	Quantity   int
	Creativity float64
}

type Backend interface {
	Generate(ctx context.Context, req Request) ([]model.Draft, error)
}

const systemPrompt = `You are a worldbuilding assistant. You extend an existing fictional canon.
New entities must be consistent with everything in the provided context and must not duplicate entities that already exist.
Respond with JSON only.`

// DefaultPrompt is formatted with: quantity, target type, context markdown,
// user instruction, field list.
const DefaultPrompt = `Create %[1]d new %[2]s entities for the world described below.

%[3]s

## Instruction
%[4]s

Return a JSON object of the form:
{"entities": [{"name": "...", "description": "...", "fields": {%[5]s}, "relationships": [{"targetName": "...", "type": "ALLY_OF"}]}]}

Relationships are optional. "targetName" must be an entity from the context or another new entity in this response.
Use relationship types such as RELATED_TO, ALLY_OF, ENEMY_OF, MEMBER_OF, OWNS, PARTICIPATED_IN, CREATED, KNOWS.`

const noInstruction = "No further instruction. Follow the context."

type LLMBackend struct {
	LLM    llm.LLMClient
	Prompt string
	logger *log.Logger
}

func NewLLMBackend(client llm.LLMClient, prompt string, logger *log.Logger) *LLMBackend {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return &LLMBackend{
		LLM:    client,
		Prompt: prompt,
		logger: logging.OrDiscard(logger),
	}
}

func (b *LLMBackend) Generate(ctx context.Context, req Request) ([]model.Draft, error) {
	instruction := strings.TrimSpace(req.Prompt)
	if instruction == "" {
		instruction = noInstruction
	}
	prompt := fmt.Sprintf(b.Prompt, req.Quantity, req.TargetType, req.ContextMarkdown, instruction, fieldHint(req.TargetType))

	response, err := b.LLM.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: Temperature(req.Creativity),
		JSON:        true,
	})
	if err != nil {
		return nil, apperr.GenerationFailed("generation backend unavailable", err)
	}

	result, err := common.ParseJSON[model.Drafts](response)
	if err != nil {
		b.logger.Warn("unparseable generation response", "target", req.TargetType, "err", err)
		return nil, apperr.GenerationFailed("generation backend returned malformed output", err)
	}
	return result.Entities, nil
}

// Temperature maps creativity in [0,1] onto a sampling temperature in
// [0.2,1.1].
func Temperature(creativity float64) float64 {
	if math.IsNaN(creativity) || creativity < 0 {
		creativity = 0
	}
	if creativity > 1 {
		creativity = 1
	}
	return 0.2 + 0.9*creativity
}

func fieldHint(t model.EntityType) string {
	d, ok := model.NewDetails(t).(model.Details)
	if !ok {
		return ""
	}
	keys := make([]string, 0)
	for k := range d.Properties() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q: ...", k)
	}
	return strings.Join(parts, ", ")
}

var _ Backend = (*LLMBackend)(nil)
