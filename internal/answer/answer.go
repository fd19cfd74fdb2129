// Package answer phrases query results, or general questions, as a short
// natural-language reply.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/llm"
	"github.com/tablesense/tablesense/internal/query"
)

const (
	DefaultTemperature = 0.5
	DefaultRowLimit    = 50
)

type Config struct {
	Temperature float64
	MaxTokens   int
	// RowLimit caps how many result rows are quoted in the prompt.
	RowLimit int
}

type Synthesizer struct {
	completer   llm.Completer
	temperature float64
	maxTokens   int
	rowLimit    int
}

func NewSynthesizer(completer llm.Completer, cfg Config) (*Synthesizer, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = DefaultRowLimit
	}
	return &Synthesizer{
		completer:   completer,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		rowLimit:    cfg.RowLimit,
	}, nil
}

// Answer asks for one sentence grounded only in result.
func (s *Synthesizer) Answer(ctx context.Context, question, sqlText string, result query.Result) (string, error) {
	rows := renderRows(result, s.rowLimit)
	return s.complete(ctx, answerSystemPrompt, answerPrompt(question, sqlText, rows, result.Truncated || len(result.Rows) > s.rowLimit))
}

// Direct answers a question that needed no data.
func (s *Synthesizer) Direct(ctx context.Context, question string) (string, error) {
	return s.complete(ctx, directSystemPrompt, strings.TrimSpace(question))
}

func (s *Synthesizer) complete(ctx context.Context, system, prompt string) (string, error) {
	out, err := s.completer.Complete(ctx, llm.CompletionRequest{
		System:      system,
		Prompt:      prompt,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.AnswerSynthesis, "generate answer", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", apperr.New(apperr.AnswerSynthesis, "model returned an empty answer")
	}
	return out, nil
}

const answerSystemPrompt = "You answer questions about a database using only the query result you are given. " +
	"Reply with a single sentence. Do not invent values that are not in the result. " +
	"If the result is empty, say that no matching data was found."

const directSystemPrompt = "You are a helpful assistant. Answer the question briefly and directly."

const fewShot = `Example:
Question: What is the total value of all the sales?
SQLQuery: SELECT SUM(amount) AS total_sales_value FROM sale_advance_payment_inv
SQLResult: {"columns":["total_sales_value"],"rows":[[32]]}
Answer: The total value of all sales is 32.`

func answerPrompt(question, sqlText, rows string, truncated bool) string {
	var b strings.Builder
	b.WriteString(fewShot)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nSQLQuery: ")
	b.WriteString(strings.TrimSpace(sqlText))
	b.WriteString("\nSQLResult: ")
	b.WriteString(rows)
	if truncated {
		b.WriteString("\n(The result was truncated; only the first rows are shown.)")
	}
	b.WriteString("\nAnswer:")
	return b.String()
}

// renderRows encodes up to limit rows as {"columns":[...],"rows":[[...]]}.
// Column order and duplicate names survive; a value JSON cannot encode is
// quoted as its fmt.Sprint form.
func renderRows(result query.Result, limit int) string {
	n := len(result.Rows)
	if n > limit {
		n = limit
	}
	rows := make([][]json.RawMessage, 0, n)
	for _, row := range result.Rows[:n] {
		cells := make([]json.RawMessage, len(result.Columns))
		for i := range result.Columns {
			var value any
			if i < len(row) {
				value = row[i]
			}
			cells[i] = encodeValue(value)
		}
		rows = append(rows, cells)
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	raw, _ := json.Marshal(struct {
		Columns []string            `json:"columns"`
		Rows    [][]json.RawMessage `json:"rows"`
	}{columns, rows})
	return string(raw)
}

func encodeValue(value any) json.RawMessage {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprint(value))
	}
	return raw
}
