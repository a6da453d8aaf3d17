package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"fraudchat/db"
	"fraudchat/models"
)

type TranscriptService struct {
	repo db.TranscriptRepository
}

func NewTranscriptService(repo db.TranscriptRepository) *TranscriptService {
	return &TranscriptService{repo: repo}
}

// RecordTurn stores the messages of one committed turn, starting at firstIndex
// of the session history.
func (s *TranscriptService) RecordTurn(ctx context.Context, sessionID string, firstIndex int, messages []models.AgentMessage) error {
	log.Printf("[INFO] Starting record turn for session %s with %d messages", sessionID, len(messages))

	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session ID is required")
	}
	if firstIndex < 0 {
		return fmt.Errorf("invalid history index %d", firstIndex)
	}
	if len(messages) == 0 {
		return nil
	}

	if err := s.repo.SaveMessages(ctx, sessionID, firstIndex, messages); err != nil {
		log.Printf("[ERROR] Failed to record turn: %v", err)
		return fmt.Errorf("failed to record turn: %w", err)
	}

	log.Printf("[INFO] Successfully recorded turn for session %s", sessionID)
	return nil
}

func (s *TranscriptService) GetTranscript(ctx context.Context, sessionID string) ([]models.AgentMessage, error) {
	log.Printf("[INFO] Starting get transcript for session %s", sessionID)

	messages, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] Failed to get transcript: %v", err)
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	log.Printf("[INFO] Successfully retrieved %d messages", len(messages))
	return messages, nil
}
