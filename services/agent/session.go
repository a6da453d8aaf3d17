package agent

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fraudchat/models"
	"fraudchat/services/chart"
	"fraudchat/services/dataset"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// History is the ordered message log of one session. Appended messages are
// never modified; a failed turn is undone with Truncate.
type History struct {
	mu       sync.RWMutex
	messages []models.AgentMessage
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Snapshot returns a copy of the messages.
func (h *History) Snapshot() []models.AgentMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.AgentMessage(nil), h.messages...)
}

// Since returns a copy of the messages from index n on.
func (h *History) Since(n int) []models.AgentMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n >= len(h.messages) {
		return nil
	}
	return append([]models.AgentMessage(nil), h.messages[n:]...)
}

// Append adds msg. A tool message must directly follow an assistant message,
// and each of its results must answer a call made there by ID and name.
func (h *History) Append(msg models.AgentMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if msg.Role == models.RoleToolResult {
		if len(h.messages) == 0 || h.messages[len(h.messages)-1].Role != models.RoleAssistant {
			return fmt.Errorf("tool results must follow an assistant message")
		}
		requested := lo.SliceToMap(h.messages[len(h.messages)-1].ToolCalls(), func(c models.ToolCall) (string, string) {
			return c.ID, c.Name
		})
		for _, result := range msg.ToolResults() {
			name, ok := requested[result.ToolCallID]
			if !ok || name != result.Name {
				return fmt.Errorf("tool result %q (%s) does not answer a call from the previous message", result.ToolCallID, result.Name)
			}
		}
	}

	h.messages = append(h.messages, msg)
	return nil
}

// Truncate drops every message from index n on.
func (h *History) Truncate(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n < len(h.messages) {
		clear(h.messages[n:])
		h.messages = h.messages[:n]
	}
}

// Session is the state of one conversation. Sessions never share a table or a
// history.
type Session struct {
	ID        string
	Greeting  string
	CreatedAt time.Time

	history History
	table   atomic.Pointer[dataset.Table]

	chartsMu sync.RWMutex
	charts   map[string]*chart.Image

	// turnMu serializes turns so a turn always sees its own history.
	turnMu sync.Mutex
}

func newSession(table *dataset.Table) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		charts:    make(map[string]*chart.Image),
	}
	s.table.Store(table)
	return s
}

// Table returns the current table. A concurrent reload never exposes a
// partially built table.
func (s *Session) Table() *dataset.Table {
	return s.table.Load()
}

// SetTable replaces the table wholesale and returns the previous one.
func (s *Session) SetTable(t *dataset.Table) *dataset.Table {
	return s.table.Swap(t)
}

func (s *Session) History() *History {
	return &s.history
}

func (s *Session) StoreChart(img *chart.Image) string {
	id := uuid.NewString()
	s.chartsMu.Lock()
	s.charts[id] = img
	s.chartsMu.Unlock()
	return id
}

func (s *Session) Chart(id string) (*chart.Image, bool) {
	s.chartsMu.RLock()
	defer s.chartsMu.RUnlock()
	img, ok := s.charts[id]
	return img, ok
}

func (s *Session) dropCharts(ids []string) {
	s.chartsMu.Lock()
	defer s.chartsMu.Unlock()
	for _, id := range ids {
		delete(s.charts, id)
	}
}
