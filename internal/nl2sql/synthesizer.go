// Package nl2sql turns a question plus retrieved schema context into a single
// candidate SQL statement.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/llm"
)

// NoQueryToken is what the model is told to emit for questions that need no data.
const NoQueryToken = "NONE"

// ErrNoQueryNeeded signals the direct-answer path.
var ErrNoQueryNeeded = errors.New("nl2sql: question does not need a database query")

// Candidate is a statement proposed by the model. Valid and Normalized are
// filled in by validation. Raw never changes and is the text that gets
// executed; Normalized is the parser's canonical rendering, kept for logs.
type Candidate struct {
	Raw        string `json:"raw"`
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
}

type Config struct {
	Temperature float64
	MaxTokens   int
	// Dialect names the SQL flavour the model is asked for.
	Dialect string
}

type Synthesizer struct {
	completer   llm.Completer
	temperature float64
	maxTokens   int
	dialect     string
}

func NewSynthesizer(completer llm.Completer, cfg Config) (*Synthesizer, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	dialect := strings.TrimSpace(cfg.Dialect)
	if dialect == "" {
		dialect = "PostgreSQL"
	}
	return &Synthesizer{
		completer:   completer,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		dialect:     dialect,
	}, nil
}

// Synthesize makes exactly one completion call.
func (s *Synthesizer) Synthesize(ctx context.Context, question, schemaContext string) (Candidate, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Candidate{}, apperr.New(apperr.Validation, "question is empty")
	}

	out, err := s.completer.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt(s.dialect),
		Prompt:      userPrompt(question, schemaContext),
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return Candidate{}, apperr.WrapCtx(apperr.Synthesis, "generate sql", err)
	}

	sql := stripMarkdownSQL(out)
	if isNoQuery(sql) {
		return Candidate{}, ErrNoQueryNeeded
	}
	if sql == "" {
		return Candidate{}, apperr.New(apperr.Synthesis, "model returned empty SQL")
	}
	return Candidate{Raw: sql}, nil
}

func systemPrompt(dialect string) string {
	return "You convert questions about a relational database into a single strict " + dialect + " query. " +
		"Use only the tables and columns listed in the schema context. Never reference a table or column that is not listed. " +
		"Return ONLY SQL. No markdown, no explanation. " +
		"If the question can be answered without querying the database, return exactly " + NoQueryToken + "."
}

func userPrompt(question, schemaContext string) string {
	schemaContext = strings.TrimSpace(schemaContext)
	if schemaContext == "" {
		schemaContext = "(no tables available)"
	}
	return fmt.Sprintf(
		"Schema context:\n%s\n\nQuestion:\n%s\n\nRules:\n- Output a single read-only SELECT statement.\n- Use only the listed tables and columns.\n- Output %s if no query is needed.",
		schemaContext,
		question,
		NoQueryToken,
	)
}

func isNoQuery(value string) bool {
	v := strings.TrimSpace(value)
	v = strings.TrimSuffix(v, ".")
	v = strings.Trim(v, "\"'` ")
	return strings.EqualFold(v, NoQueryToken)
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```SQL")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
