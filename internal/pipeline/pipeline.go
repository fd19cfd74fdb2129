// Package pipeline drives one question through retrieval, synthesis,
// validation, execution and answering.
//
// Every external call is made once. A failed stage ends the request in
// StateFailed with a typed error. An answer synthesis error degrades the
// reply instead of failing the request; a panic in that stage still fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/index"
	"github.com/tablesense/tablesense/internal/nl2sql"
	"github.com/tablesense/tablesense/internal/observability"
	"github.com/tablesense/tablesense/internal/query"
	"github.com/tablesense/tablesense/internal/sqlguard"
)

type State string

const (
	StateReceived     State = "RECEIVED"
	StateRetrieved    State = "RETRIEVED"
	StateSynthesized  State = "SYNTHESIZED"
	StateValidated    State = "VALIDATED"
	StateExecuted     State = "EXECUTED"
	StateAnswered     State = "ANSWERED"
	StateDirectAnswer State = "DIRECT_ANSWER"
	StateFailed       State = "FAILED"
)

// DegradedAnswer replaces the final sentence when answer synthesis fails
// after a successful execution.
const DegradedAnswer = "natural-language synthesis unavailable"

const (
	stageRetrieve   = "retrieve"
	stageSynthesize = "synthesize"
	stageValidate   = "validate"
	stageExecute    = "execute"
	stageAnswer     = "answer"
	stageDirect     = "direct"
)

type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) (string, error)
}

type SQLSynthesizer interface {
	Synthesize(ctx context.Context, question, schemaContext string) (nl2sql.Candidate, error)
}

// Validator must be pure.
type Validator func(text string) sqlguard.Verdict

type Executor interface {
	Execute(ctx context.Context, sqlText string) (query.Result, error)
}

type AnswerSynthesizer interface {
	Answer(ctx context.Context, question, sqlText string, result query.Result) (string, error)
	Direct(ctx context.Context, question string) (string, error)
}

type Dependencies struct {
	Retriever   Retriever
	Synthesizer SQLSynthesizer
	Validator   Validator
	Executor    Executor
	Answerer    AnswerSynthesizer
	Logger      *slog.Logger
}

type Config struct {
	TopK           int
	RequestTimeout time.Duration
}

// Record is the outcome of one request. Candidate is set once synthesis
// succeeded and Result once execution succeeded; Err is set only in StateFailed.
type Record struct {
	RequestID     uuid.UUID
	Question      string
	SchemaContext string
	Candidate     *nl2sql.Candidate
	Result        *query.Result
	Answer        string
	State         State
	Degraded      bool
	Err           error
	History       []State
}

type Pipeline struct {
	retriever      Retriever
	synthesizer    SQLSynthesizer
	validate       Validator
	executor       Executor
	answerer       AnswerSynthesizer
	logger         *slog.Logger
	topK           int
	requestTimeout time.Duration
}

func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Retriever == nil:
		return nil, fmt.Errorf("retriever is required")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("sql synthesizer is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case deps.Answerer == nil:
		return nil, fmt.Errorf("answer synthesizer is required")
	}
	validate := deps.Validator
	if validate == nil {
		validate = sqlguard.Validate
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = index.DefaultTopK
	}
	return &Pipeline{
		retriever:      deps.Retriever,
		synthesizer:    deps.Synthesizer,
		validate:       validate,
		executor:       deps.Executor,
		answerer:       deps.Answerer,
		logger:         logger,
		topK:           topK,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Answer never returns an error; failures are reported through the Record.
func (p *Pipeline) Answer(ctx context.Context, question string) Record {
	rec := Record{
		RequestID: uuid.New(),
		Question:  strings.TrimSpace(question),
		State:     StateReceived,
		History:   []State{StateReceived},
	}
	ctx = observability.ContextWithRequestID(ctx, rec.RequestID.String())
	logger := observability.LoggerFromContext(ctx, p.logger)
	logger.Debug("pipeline_received", slog.Int("question_chars", len(rec.Question)))

	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	if rec.Question == "" {
		return p.fail(logger, rec, apperr.New(apperr.Validation, "question is required"))
	}

	err := p.stage(ctx, logger, stageRetrieve, func(ctx context.Context) error {
		schemaContext, err := p.retriever.Retrieve(ctx, rec.Question, p.topK)
		rec.SchemaContext = schemaContext
		return err
	})
	if err != nil {
		return p.fail(logger, rec, err)
	}
	p.advance(logger, &rec, StateRetrieved)

	var candidate nl2sql.Candidate
	err = p.stage(ctx, logger, stageSynthesize, func(ctx context.Context) error {
		var err error
		candidate, err = p.synthesizer.Synthesize(ctx, rec.Question, rec.SchemaContext)
		return err
	})
	if errors.Is(err, nl2sql.ErrNoQueryNeeded) {
		return p.direct(ctx, logger, rec)
	}
	if err != nil {
		return p.fail(logger, rec, err)
	}
	rec.Candidate = &candidate
	p.advance(logger, &rec, StateSynthesized)

	var verdict sqlguard.Verdict
	err = p.stage(ctx, logger, stageValidate, func(context.Context) error {
		verdict = p.validate(candidate.Raw)
		return nil
	})
	if err != nil {
		return p.fail(logger, rec, err)
	}
	if !verdict.Valid {
		observability.IncrementValidationRejection(string(verdict.Reason))
		return p.fail(logger, rec, apperr.New(apperr.Validation, fmt.Sprintf("%s: %s", verdict.Reason, verdict.Detail)))
	}
	candidate.Valid = true
	candidate.Normalized = verdict.Normalized
	rec.Candidate = &candidate
	p.advance(logger, &rec, StateValidated)

	var result query.Result
	err = p.stage(ctx, logger, stageExecute, func(ctx context.Context) error {
		var err error
		result, err = p.executor.Execute(ctx, candidate.Raw)
		return err
	})
	if err != nil {
		return p.fail(logger, rec, err)
	}
	rec.Result = &result
	p.advance(logger, &rec, StateExecuted)

	err = p.stage(ctx, logger, stageAnswer, func(ctx context.Context) error {
		var err error
		rec.Answer, err = p.answerer.Answer(ctx, rec.Question, candidate.Raw, result)
		return err
	})
	if apperr.Is(err, apperr.Internal) {
		return p.fail(logger, rec, err)
	}
	if err != nil {
		logger.Warn("pipeline_answer_degraded", slog.String("error", err.Error()))
		rec.Answer = DegradedAnswer
		rec.Degraded = true
	}
	p.advance(logger, &rec, StateAnswered)
	observability.ObservePipelineOutcome(outcome(rec))
	return rec
}

func (p *Pipeline) direct(ctx context.Context, logger *slog.Logger, rec Record) Record {
	err := p.stage(ctx, logger, stageDirect, func(ctx context.Context) error {
		var err error
		rec.Answer, err = p.answerer.Direct(ctx, rec.Question)
		return err
	})
	if err != nil {
		return p.fail(logger, rec, err)
	}
	p.advance(logger, &rec, StateDirectAnswer)
	observability.ObservePipelineOutcome(outcome(rec))
	return rec
}

// stage runs fn, converting a panic into an Internal error.
func (p *Pipeline) stage(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) (err error) {
	started := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("pipeline_stage_panic",
				slog.String("stage", name),
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			err = apperr.New(apperr.Internal, "panic in "+name+" stage")
		}
		observability.ObserveStage(name, time.Since(started))
	}()
	return fn(ctx)
}

func (p *Pipeline) advance(logger *slog.Logger, rec *Record, next State) {
	logger.Debug("pipeline_transition", slog.String("from", string(rec.State)), slog.String("to", string(next)))
	rec.State = next
	rec.History = append(rec.History, next)
}

func (p *Pipeline) fail(logger *slog.Logger, rec Record, err error) Record {
	if apperr.KindOf(err) == apperr.Internal {
		var e *apperr.E
		if !errors.As(err, &e) {
			err = apperr.Wrap(apperr.Internal, "unexpected failure", err)
		}
	}
	rec.Err = err
	logger.Debug("pipeline_transition",
		slog.String("from", string(rec.State)),
		slog.String("to", string(StateFailed)),
		slog.String("kind", string(apperr.KindOf(err))),
		slog.String("error", err.Error()),
	)
	rec.State = StateFailed
	rec.History = append(rec.History, StateFailed)
	observability.ObservePipelineOutcome(outcome(rec))
	return rec
}

func outcome(rec Record) string {
	switch rec.State {
	case StateAnswered:
		if rec.Degraded {
			return "degraded"
		}
		return "answered"
	case StateDirectAnswer:
		return "direct"
	case StateFailed:
		return "failed_" + string(apperr.KindOf(rec.Err))
	default:
		return strings.ToLower(string(rec.State))
	}
}
