package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"fraudchat/models"
	"fraudchat/services/chart"
	"fraudchat/services/dataset"
	"fraudchat/services/query"

	"github.com/samber/lo"
)

// ToolRoundsNotice is the final answer when the reasoning service still asks
// for tools after the last permitted round and gave no text.
const ToolRoundsNotice = "I could not finish this analysis within the allowed number of tool calls. Please try a narrower question."

const emptyResponseNotice = "The model returned an empty response. Please rephrase the question."

// TranscriptRecorder persists committed turns.
type TranscriptRecorder interface {
	RecordTurn(ctx context.Context, sessionID string, firstIndex int, messages []models.AgentMessage) error
}

type Option func(*Service)

func WithRetry(config RetryConfig) Option {
	return func(s *Service) { s.retry = config }
}

// WithMaxToolRounds bounds how many tool batches one turn may run. One round
// means exactly two reasoning calls.
func WithMaxToolRounds(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.maxToolRounds = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTranscriptRecorder(r TranscriptRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithSystemPrompt(prompt string) Option {
	return func(s *Service) { s.systemPrompt = prompt }
}

func withSleep(sleep sleepFunc) Option {
	return func(s *Service) { s.sleep = sleep }
}

// Service is the conversation orchestrator. It owns every open session.
type Service struct {
	reasoner     Reasoner
	provider     *dataset.Provider
	registry     *Registry
	retry        RetryConfig
	sleep        sleepFunc
	systemPrompt string

	maxToolRounds int
	metrics       *Metrics
	recorder      TranscriptRecorder

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewService(reasoner Reasoner, provider *dataset.Provider, opts ...Option) *Service {
	s := &Service{
		reasoner:      reasoner,
		provider:      provider,
		retry:         DefaultRetryConfig(),
		sleep:         sleepContext,
		systemPrompt:  SystemPrompt,
		maxToolRounds: 1,
		sessions:      make(map[string]*Session),
	}

	s.registry = NewRegistry(
		NewLoadDataTool(provider),
		NewQueryTool(query.NewExecutor()),
		NewChartTool(chart.NewRenderer()),
		SummarizeTool{},
	)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// NewSession loads the table through the provider's fallback chain and opens
// a session on it. The greeting is for display and is not part of History.
func (s *Service) NewSession(ctx context.Context) (*Session, error) {
	log.Printf("[INFO] Starting new session")

	table, err := s.provider.Load(ctx)
	if err != nil {
		log.Printf("[ERROR] Failed to load table for new session: %v", err)
		return nil, fmt.Errorf("failed to load table: %w", err)
	}

	sess := newSession(table)
	sess.Greeting = Greeting(table)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.metrics.sessions(1)

	log.Printf("[INFO] Session %s opened on %s table with %d rows", sess.ID, table.SourceKind(), table.Rows())
	return sess, nil
}

// Greeting introduces the assistant and says which data is in use.
func Greeting(table *dataset.Table) string {
	var source string
	if table.IsDemo() {
		source = fmt.Sprintf("**For now I am using demonstration data (%d synthetic transactions).**", table.Rows())
	} else {
		source = fmt.Sprintf("**I am using the file `%s` (%d transactions).**", path.Base(table.Origin()), table.Rows())
	}

	return "Hi! I am an assistant for exploring credit card fraud data.\n\n" +
		source + "\n\n" +
		"If you want another file, send me its location:\n\n" +
		"**Analyze this CSV file:** `https://link-to-your-file.csv`"
}

func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.metrics.sessions(-1)
	log.Printf("[INFO] Session %s closed", id)
	return nil
}

func (s *Service) History(id string) ([]models.AgentMessage, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.History().Snapshot(), nil
}

func (s *Service) Chart(sessionID, chartID string) (*chart.Image, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	img, ok := sess.Chart(chartID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChartNotFound, chartID)
	}
	return img, nil
}

// turn holds what a turn changed so it can be undone.
type turn struct {
	session     *Session
	historyLen  int
	table       *dataset.Table
	chartIDs    []string
	startedAt   time.Time
	toolBatches int
}

// SubmitUserTurn appends text as a user message, runs the reasoning and tool
// rounds, and returns the final assistant message. On failure every change the
// turn made is undone and a *TurnError is returned.
func (s *Service) SubmitUserTurn(ctx context.Context, sessionID, text string) (*models.AgentMessage, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	t := &turn{
		session:    sess,
		historyLen: sess.History().Len(),
		table:      sess.Table(),
		startedAt:  time.Now(),
	}

	log.Printf("[INFO] Starting turn for session %s with %d messages in history", sess.ID, t.historyLen)

	if err := sess.History().Append(models.TextMessage(models.RoleUser, text)); err != nil {
		return nil, s.rollback(t, err)
	}

	for round := 0; ; round++ {
		resp, err := s.generate(ctx, sess, fmt.Sprintf("round %d", round+1))
		if err != nil {
			return nil, s.rollback(t, err)
		}

		reply := resp.Message()
		calls := reply.ToolCalls()

		if len(calls) == 0 || round >= s.maxToolRounds {
			if len(calls) > 0 {
				log.Printf("[WARN] Ignoring %d tool call(s) requested after the last permitted round", len(calls))
			}
			final := finalMessage(reply, len(calls) > 0)
			if err := sess.History().Append(final); err != nil {
				return nil, s.rollback(t, err)
			}
			s.commit(ctx, t)
			return &final, nil
		}

		if err := sess.History().Append(reply); err != nil {
			return nil, s.rollback(t, err)
		}

		results := s.dispatchAll(ctx, t, calls)
		if err := sess.History().Append(models.AgentMessage{Role: models.RoleToolResult, Parts: results}); err != nil {
			return nil, s.rollback(t, err)
		}
	}
}

// dispatchAll runs calls one at a time in request order, so a later call sees
// the table loaded by an earlier one.
func (s *Service) dispatchAll(ctx context.Context, t *turn, calls []models.ToolCall) []models.Part {
	t.toolBatches++
	parts := make([]models.Part, 0, len(calls))

	for _, call := range calls {
		result := s.registry.Dispatch(ctx, t.session, call)

		status := "ok"
		switch {
		case !s.registry.Has(call.Name):
			status = "unknown"
		case result.IsError:
			status = "error"
		}
		s.metrics.toolCall(call.Name, status)

		if result.ChartID != "" {
			t.chartIDs = append(t.chartIDs, result.ChartID)
		}
		parts = append(parts, models.Part{ToolResult: &result})
	}

	return parts
}

// finalMessage keeps only the text of reply.
func finalMessage(reply models.AgentMessage, toolsDropped bool) models.AgentMessage {
	text := strings.TrimSpace(reply.Text())
	if text == "" {
		text = emptyResponseNotice
		if toolsDropped {
			text = ToolRoundsNotice
		}
	}
	return models.TextMessage(models.RoleAssistant, text)
}

func (s *Service) generate(ctx context.Context, sess *Session, stage string) (*Response, error) {
	req := Request{
		System:   s.systemPrompt,
		Messages: sess.History().Snapshot(),
		Tools:    s.registry.Specs(),
	}

	s.logRequest(stage, req)

	var resp *Response
	err := retry(ctx, s.retry, s.sleep, func(ctx context.Context, attempt int) error {
		r, err := s.reasoner.Generate(ctx, req)
		if err != nil {
			if IsRetryable(err) {
				s.metrics.attempt("retryable")
			} else {
				s.metrics.attempt("fatal")
			}
			log.Printf("[WARN] Reasoning attempt %d/%d failed: %v", attempt, s.retry.MaxAttempts, err)
			return err
		}
		s.metrics.attempt("ok")
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logResponse(stage, resp)
	return resp, nil
}

func (s *Service) rollback(t *turn, err error) error {
	t.session.History().Truncate(t.historyLen)
	t.session.SetTable(t.table)
	t.session.dropCharts(t.chartIDs)

	category := CategoryInternal
	var fatal *FatalServiceError
	if errors.As(err, &fatal) {
		category = fatal.Category()
	}

	s.metrics.turn("rolled_back", time.Since(t.startedAt).Seconds())
	log.Printf("[ERROR] Turn for session %s rolled back (%s): %v", t.session.ID, category, err)

	return &TurnError{Category: category, Err: err}
}

func (s *Service) commit(ctx context.Context, t *turn) {
	s.metrics.turn("committed", time.Since(t.startedAt).Seconds())
	log.Printf("[INFO] Turn for session %s completed with %d tool batch(es)", t.session.ID, t.toolBatches)

	if s.recorder == nil {
		return
	}
	messages := t.session.History().Since(t.historyLen)
	if err := s.recorder.RecordTurn(context.WithoutCancel(ctx), t.session.ID, t.historyLen, messages); err != nil {
		log.Printf("[WARN] Failed to record turn for session %s: %v", t.session.ID, err)
	}
}

func (s *Service) logRequest(stage string, req Request) {
	log.Printf("[INFO] ========== Reasoning Request (%s) ==========", stage)

	log.Printf("[INFO] Messages (%d total):", len(req.Messages))
	for i, msg := range req.Messages {
		log.Printf("[INFO]   [%d] Role: %s, Parts: %d", i, msg.Role, len(msg.Parts))
	}

	if len(req.Tools) > 0 {
		names := lo.Map(req.Tools, func(t ToolSpec, _ int) string { return t.Name })
		log.Printf("[INFO] Available Tools: %s", strings.Join(names, ", "))
	} else {
		log.Printf("[INFO] No tools provided")
	}

	log.Printf("[INFO] ================================================")
}

func (s *Service) logResponse(stage string, resp *Response) {
	log.Printf("[INFO] ========== Reasoning Response (%s) ==========", stage)

	if resp.Model != "" {
		log.Printf("[INFO] Model: %s", resp.Model)
	}
	log.Printf("[INFO] StopReason: %s", resp.StopReason)
	log.Printf("[INFO] Content parts (%d total):", len(resp.Parts))

	toolCallCount := 0
	for i, part := range resp.Parts {
		switch {
		case part.ToolCall != nil:
			toolCallCount++
			log.Printf("[INFO]   [%d] Tool Use: ID=%s, Name=%s, Input=%v", i, part.ToolCall.ID, part.ToolCall.Name, part.ToolCall.Arguments)
		case part.Text != "":
			log.Printf("[INFO]   [%d] Text: %s", i, part.Text)
		}
	}

	if toolCallCount > 0 {
		log.Printf("[INFO] Total tool calls: %d", toolCallCount)
	} else {
		log.Printf("[INFO] No tool calls made")
	}

	log.Printf("[INFO] =================================================")
}
