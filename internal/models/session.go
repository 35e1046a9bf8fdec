package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session statuses. A session starts active and can only move to completed.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Recognized difficulty levels, stored uppercased.
const (
	DifficultyEasy   = "EASY"
	DifficultyMedium = "MEDIUM"
	DifficultyHard   = "HARD"
)

// ValidDifficulty checks that a difficulty is one of the recognized levels.
// The check is case insensitive.
func ValidDifficulty(difficulty string) bool {
	switch strings.ToUpper(difficulty) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// Session represents one interview pairing between a host and a
// capacity-bounded set of participants.
type Session struct {
	ID           string    `json:"id"`
	CallID       string    `json:"callId"`
	Problem      string    `json:"problem"`
	Difficulty   string    `json:"difficulty"`
	Status       string    `json:"status"`
	HostID       string    `json:"hostId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Host         User      `json:"host"`
	Participants []User    `json:"participants"`
}

func (s Session) String() string {
	return fmt.Sprintf(
		"Session(id=%s, callId=%s, problem=%s, difficulty=%s, status=%s, hostId=%s, participants=%d)",
		s.ID,
		s.CallID,
		s.Problem,
		s.Difficulty,
		s.Status,
		s.HostID,
		len(s.Participants),
	)
}

// CreateSessionRequest request body for creating a session.
type CreateSessionRequest struct {
	Problem    string `json:"problem"`
	Difficulty string `json:"difficulty"`
}

// NewCallID creates the externally addressable call id for a session.
// The random component carries the uniqueness, the timestamp is there
// for readability when debugging.
func NewCallID() string {
	millis := time.Now().UTC().UnixNano() / int64(time.Millisecond)
	return fmt.Sprintf("session_%d_%s", millis, uuid.New().String())
}
