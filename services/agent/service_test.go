package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fraudchat/models"
	"fraudchat/services/dataset"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStep func(req Request) (*Response, error)

// stubReasoner replays scripted steps; the last step repeats once the script
// runs out.
type stubReasoner struct {
	mu       sync.Mutex
	steps    []stubStep
	requests []Request
}

func (s *stubReasoner) Generate(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i](req)
}

func (s *stubReasoner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *stubReasoner) lastToolResults() []models.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.requests[len(s.requests)-1].Messages
	return msgs[len(msgs)-1].ToolResults()
}

func reply(text string) stubStep {
	return func(Request) (*Response, error) {
		return &Response{Parts: []models.Part{{Text: text}}}, nil
	}
}

func callTools(calls ...models.ToolCall) stubStep {
	return func(Request) (*Response, error) {
		resp := &Response{}
		for i := range calls {
			resp.Parts = append(resp.Parts, models.Part{ToolCall: &calls[i]})
		}
		return resp, nil
	}
}

func fail(status int) stubStep {
	return func(Request) (*Response, error) {
		return nil, classifyStatus(status, fmt.Errorf("stub failure %d", status))
	}
}

func toolCall(id, name string, args map[string]any) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Arguments: args}
}

type fakeRecorder struct {
	turns [][]models.AgentMessage
	first []int
}

func (f *fakeRecorder) RecordTurn(ctx context.Context, sessionID string, firstIndex int, messages []models.AgentMessage) error {
	f.turns = append(f.turns, messages)
	f.first = append(f.first, firstIndex)
	return nil
}

func newTestService(t *testing.T, reasoner Reasoner, opts ...Option) (*Service, *Session) {
	t.Helper()

	base := []Option{
		withSleep(func(context.Context, time.Duration) error { return nil }),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	}
	svc := NewService(reasoner, dataset.NewProvider("", ""), append(base, opts...)...)

	sess, err := svc.NewSession(context.Background())
	require.NoError(t, err)
	return svc, sess
}

func writeCSV(t *testing.T, rows int) string {
	t.Helper()

	var b strings.Builder
	b.WriteString(strings.Join(dataset.Schema, ",") + "\n")
	for i := 0; i < rows; i++ {
		cells := make([]string, len(dataset.Schema))
		for c := range cells {
			cells[c] = fmt.Sprintf("%d", i+c)
		}
		cells[len(cells)-1] = fmt.Sprintf("%d", i%2)
		b.WriteString(strings.Join(cells, ",") + "\n")
	}

	path := filepath.Join(t.TempDir(), "cards.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestSubmitUserTurn_TextOnly(t *testing.T) {
	stub := &stubReasoner{steps: []stubStep{reply("There are 100 rows.")}}
	svc, sess := newTestService(t, stub)

	msg, err := svc.SubmitUserTurn(context.Background(), sess.ID, "  how many rows?  ")
	require.NoError(t, err)

	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.Equal(t, "There are 100 rows.", msg.Text())
	assert.Equal(t, 1, stub.calls())

	history, err := svc.History(sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "how many rows?", history[0].Text())
	assert.Equal(t, SystemPrompt, stub.requests[0].System)
	assert.Len(t, stub.requests[0].Tools, 4)
}

func TestSubmitUserTurn_ToolRound(t *testing.T) {
	stub := &stubReasoner{steps: []stubStep{
		callTools(toolCall("c1", "query", map[string]any{"code": `df.Where("Class", "==", 1).Rows()`})),
		reply("5 transactions are fraud."),
	}}
	svc, sess := newTestService(t, stub)

	msg, err := svc.SubmitUserTurn(context.Background(), sess.ID, "how many frauds?")
	require.NoError(t, err)
	assert.Equal(t, "5 transactions are fraud.", msg.Text())
	assert.Equal(t, 2, stub.calls())

	results := stub.lastToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "query", results[0].Name)
	assert.Equal(t, "5", results[0].Content)
	assert.False(t, results[0].IsError)

	history := sess.History().Snapshot()
	require.Len(t, history, 4)
	assert.Equal(t, []string{models.RoleUser, models.RoleAssistant, models.RoleToolResult, models.RoleAssistant},
		[]string{history[0].Role, history[1].Role, history[2].Role, history[3].Role})
}

func TestSubmitUserTurn_AtomicOnFailure(t *testing.T) {
	csvPath := writeCSV(t, 4)

	tests := []struct {
		name  string
		steps []stubStep
		calls int
	}{
		{
			name:  "first call fails",
			steps: []stubStep{reply("warm up"), fail(400)},
			calls: 2,
		},
		{
			name: "second call fails after a chart",
			steps: []stubStep{
				reply("warm up"),
				callTools(toolCall("c1", "chart", map[string]any{"kind": "hist", "columns": []string{"Amount"}, "title": "t"})),
				fail(400),
			},
			calls: 3,
		},
		{
			name: "second call fails after a reload",
			steps: []stubStep{
				reply("warm up"),
				callTools(toolCall("c1", "load_data", map[string]any{"url": csvPath})),
				fail(401),
			},
			calls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubReasoner{steps: tt.steps}
			recorder := &fakeRecorder{}
			svc, sess := newTestService(t, stub, WithTranscriptRecorder(recorder))

			_, err := svc.SubmitUserTurn(context.Background(), sess.ID, "hello")
			require.NoError(t, err)

			before := sess.History().Snapshot()
			tableBefore := sess.Table()

			_, err = svc.SubmitUserTurn(context.Background(), sess.ID, "now fail")
			var turnErr *TurnError
			require.ErrorAs(t, err, &turnErr)
			assert.Equal(t, CategoryRejected, turnErr.Category)

			assert.Equal(t, tt.calls, stub.calls())
			assert.Equal(t, before, sess.History().Snapshot())
			assert.Same(t, tableBefore, sess.Table())
			assert.Len(t, recorder.turns, 1)

			sess.chartsMu.RLock()
			assert.Empty(t, sess.charts)
			sess.chartsMu.RUnlock()

			assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.TurnsTotal.WithLabelValues("rolled_back")))
		})
	}
}

func TestSubmitUserTurn_RetryCeiling(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		attempts int
		category string
		sleeps   []time.Duration
	}{
		{"server errors exhaust attempts", 503, 4, CategoryUnavailable, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"rate limit exhausts attempts", 429, 4, CategoryRateLimited, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"client error is not retried", 400, 1, CategoryRejected, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sleeps []time.Duration
			stub := &stubReasoner{steps: []stubStep{fail(tt.status)}}
			svc, sess := newTestService(t, stub,
				WithRetry(RetryConfig{MaxAttempts: 4, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, BackoffFactor: 2}),
				withSleep(func(_ context.Context, d time.Duration) error {
					sleeps = append(sleeps, d)
					return nil
				}),
			)

			_, err := svc.SubmitUserTurn(context.Background(), sess.ID, "hello")

			var fatal *FatalServiceError
			require.ErrorAs(t, err, &fatal)
			assert.Equal(t, tt.attempts, fatal.Attempts)
			assert.Equal(t, tt.attempts, stub.calls())
			assert.Equal(t, tt.sleeps, sleeps)

			var turnErr *TurnError
			require.ErrorAs(t, err, &turnErr)
			assert.Equal(t, tt.category, turnErr.Category)
			assert.Equal(t, 0, sess.History().Len())
		})
	}
}

func TestSubmitUserTurn_RetryThenSuccess(t *testing.T) {
	stub := &stubReasoner{steps: []stubStep{fail(500), fail(502), reply("ok")}}
	svc, sess := newTestService(t, stub)

	msg, err := svc.SubmitUserTurn(context.Background(), sess.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Text())
	assert.Equal(t, 3, stub.calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.ReasoningAttemptsTotal.WithLabelValues("retryable")))
}

func TestSubmitUserTurn_CancelledContext(t *testing.T) {
	stub := &stubReasoner{steps: []stubStep{reply("never")}}
	svc, sess := newTestService(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SubmitUserTurn(ctx, sess.ID, "hello")
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, CategoryCancelled, turnErr.Category)
	assert.Equal(t, 0, stub.calls())
	assert.Equal(t, 0, sess.History().Len())
}

func TestSubmitUserTurn_UnknownTool(t *testing.T) {
	stub := &stubReasoner{steps: []stubStep{
		callTools(
			toolCall("c1", "foo", map[string]any{"x": 1}),
			toolCall("c2", "query", map[string]any{"code": `print("tool not recognized: foo")`}),
		),
		reply("Sorry, I cannot do that."),
	}}
	svc, sess := newTestService(t, stub)

	msg, err := svc.SubmitUserTurn(context.Background(), sess.ID, "do foo")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I cannot do that.", msg.Text())

	results := stub.lastToolResults()
	require.Len(t, results, 2)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "tool not recognized: foo")
	assert.False(t, results[1].IsError)
	assert.Equal(t, "tool not recognized: foo", results[1].Content)
	assert.Equal(t, 4, sess.History().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.ToolCallsTotal.WithLabelValues("foo", "unknown")))
	// A known tool whose output mentions the same words still counts as ok.
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.ToolCallsTotal.WithLabelValues("query", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(svc.metrics.ToolCallsTotal.WithLabelValues("query", "unknown")))
}

func TestSubmitUserTurn_SequentialDispatch(t *testing.T) {
	csvPath := writeCSV(t, 4)
	stub := &stubReasoner{steps: []stubStep{
		callTools(
			toolCall("c1", "load_data", map[string]any{"url": csvPath}),
			toolCall("c2", "query", map[string]any{"code": "df.Rows()"}),
			toolCall("c3", "chart", map[string]any{"kind": "pie", "columns": []string{"Class"}, "title": "Classes"}),
		),
		reply("Loaded."),
	}}
	svc, sess := newTestService(t, stub)

	_, err := svc.SubmitUserTurn(context.Background(), sess.ID, "analyze my file")
	require.NoError(t, err)

	results := stub.lastToolResults()
	require.Len(t, results, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{results[0].ToolCallID, results[1].ToolCallID, results[2].ToolCallID})
	assert.Contains(t, results[0].Content, "Loaded 4 rows")
	assert.Equal(t, "4", results[1].Content)

	require.NotEmpty(t, results[2].ChartID)
	img, err := svc.Chart(sess.ID, results[2].ChartID)
	require.NoError(t, err)
	assert.NotEmpty(t, img.PNG)

	assert.Equal(t, dataset.SourceDynamic, sess.Table().SourceKind())
}

func TestSubmitUserTurn_ToolErrorsAreResults(t *testing.T) {
	stub := &stubReasoner{steps: []stubStep{
		callTools(
			toolCall("c1", "chart", map[string]any{"kind": "scatter"}),
			toolCall("c2", "chart", map[string]any{"kind": "bar", "columns": []string{"Amount"}, "title": "t"}),
			toolCall("c3", "query", map[string]any{"code": `df.Col("Amout").Mean()`}),
			toolCall("c4", "load_data", map[string]any{"url": "ftp://example.com/x.csv"}),
		),
		reply("Those requests failed."),
	}}
	svc, sess := newTestService(t, stub)

	_, err := svc.SubmitUserTurn(context.Background(), sess.ID, "break things")
	require.NoError(t, err)

	results := stub.lastToolResults()
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.IsError, r.Content)
	}
	assert.Equal(t, "Error: missing required argument(s) for chart: columns, title", results[0].Content)
	assert.Contains(t, results[1].Content, "must use the label column Class")
	assert.Contains(t, results[2].Content, "Execution error (runtime)")
	assert.Contains(t, results[3].Content, "Error:")
	assert.True(t, sess.Table().IsDemo())
}

func TestSubmitUserTurn_ToolRounds(t *testing.T) {
	summarize := callTools(toolCall("c1", "summarize", nil))

	tests := []struct {
		name   string
		rounds int
		steps  []stubStep
		calls  int
		text   string
	}{
		{
			name:   "one round stops after two calls",
			rounds: 1,
			steps:  []stubStep{summarize, summarize},
			calls:  2,
			text:   ToolRoundsNotice,
		},
		{
			name:   "extra rounds allow chaining",
			rounds: 2,
			steps:  []stubStep{summarize, summarize, reply("done")},
			calls:  3,
			text:   "done",
		},
		{
			name:   "text beside dropped tool calls is kept",
			rounds: 1,
			steps: []stubStep{summarize, func(Request) (*Response, error) {
				return &Response{Parts: []models.Part{{Text: "partial answer"}, {ToolCall: &models.ToolCall{ID: "c9", Name: "summarize"}}}}, nil
			}},
			calls: 2,
			text:  "partial answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubReasoner{steps: tt.steps}
			svc, sess := newTestService(t, stub, WithMaxToolRounds(tt.rounds))

			msg, err := svc.SubmitUserTurn(context.Background(), sess.ID, "summarize")
			require.NoError(t, err)
			assert.Equal(t, tt.text, msg.Text())
			assert.Empty(t, msg.ToolCalls())
			assert.Equal(t, tt.calls, stub.calls())

			history := sess.History().Snapshot()
			assert.Equal(t, models.RoleAssistant, history[len(history)-1].Role)
			assert.Len(t, history, 2+2*tt.rounds)
		})
	}
}

func TestSubmitUserTurn_RecordsCommittedTurn(t *testing.T) {
	recorder := &fakeRecorder{}
	stub := &stubReasoner{steps: []stubStep{reply("first"), reply("second")}}
	svc, sess := newTestService(t, stub, WithTranscriptRecorder(recorder))

	_, err := svc.SubmitUserTurn(context.Background(), sess.ID, "one")
	require.NoError(t, err)
	_, err = svc.SubmitUserTurn(context.Background(), sess.ID, "two")
	require.NoError(t, err)

	require.Len(t, recorder.turns, 2)
	assert.Equal(t, []int{0, 2}, recorder.first)
	assert.Equal(t, "two", recorder.turns[1][0].Text())
	assert.Equal(t, "second", recorder.turns[1][1].Text())
}

func TestService_Sessions(t *testing.T) {
	stub := &stubReasoner{steps: []stubStep{reply("hi")}}
	svc, sess := newTestService(t, stub)

	assert.Contains(t, sess.Greeting, "demonstration data")
	assert.True(t, sess.Table().IsDemo())

	other, err := svc.NewSession(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, other.ID)
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.ActiveSessions))

	_, err = svc.SubmitUserTurn(context.Background(), sess.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.SubmitUserTurn(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Chart(sess.ID, "nope")
	assert.ErrorIs(t, err, ErrChartNotFound)

	require.NoError(t, svc.CloseSession(sess.ID))
	assert.ErrorIs(t, svc.CloseSession(sess.ID), ErrSessionNotFound)
	_, err = svc.History(sess.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}
