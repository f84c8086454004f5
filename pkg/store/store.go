// Package store defines persisted emergency call records and the interface
// storage backends implement.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("store: not found")

type CallType string

const (
	CallTypeMedical CallType = "medical"
	CallTypeFire    CallType = "fire"
	CallTypePolice  CallType = "police"
	CallTypeOther   CallType = "other"
)

type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusCancelled  CallStatus = "cancelled"
)

// Call is one row of the emergency_calls table.
type Call struct {
	ID              string     `json:"id"`
	CallerName      string     `json:"caller_name,omitempty"`
	CallerPhone     string     `json:"caller_phone,omitempty"`
	CallerAddress   string     `json:"caller_address,omitempty"`
	CallType        CallType   `json:"call_type"`
	CallStatus      CallStatus `json:"call_status"`
	LocationType    string     `json:"location_type,omitempty"`
	LocationDetails string     `json:"location_details,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	PriorityLevel   int        `json:"priority_level"`
	Description     string     `json:"description,omitempty"`
	DispatcherNotes string     `json:"dispatcher_notes,omitempty"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	TranscriptURL   string     `json:"transcript_url,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int        `json:"duration"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CallerDetails is the subset of a call filled in by transcript analysis.
// Nil fields leave the stored value unchanged.
type CallerDetails struct {
	CallerName    *string
	CallerAddress *string
	CallerPhone   *string
	Description   *string
}

type ListFilter struct {
	Status CallStatus
	Limit  int
}

// CallStore persists call records.
type CallStore interface {
	CreateCall(ctx context.Context, call *Call) error
	GetCall(ctx context.Context, id string) (*Call, error)
	LatestCall(ctx context.Context) (*Call, error)
	ListCalls(ctx context.Context, filter ListFilter) ([]Call, error)
	UpdateCallerDetails(ctx context.Context, id string, details CallerDetails) (*Call, error)
	Close() error
}

func ValidCallType(t CallType) bool {
	switch t {
	case CallTypeMedical, CallTypeFire, CallTypePolice, CallTypeOther:
		return true
	}
	return false
}

func ValidCallStatus(s CallStatus) bool {
	switch s {
	case CallStatusPending, CallStatusInProgress, CallStatusCompleted, CallStatusCancelled:
		return true
	}
	return false
}

// Prepare fills defaults on a call about to be inserted and validates it.
func Prepare(call *Call, now time.Time) error {
	if call == nil {
		return fmt.Errorf("call is required")
	}
	if strings.TrimSpace(call.ID) == "" {
		call.ID = uuid.Must(uuid.NewV7()).String()
	}
	if call.CallType == "" {
		call.CallType = CallTypeOther
	}
	if !ValidCallType(call.CallType) {
		return fmt.Errorf("invalid call_type %q", call.CallType)
	}
	if call.CallStatus == "" {
		call.CallStatus = CallStatusCompleted
	}
	if !ValidCallStatus(call.CallStatus) {
		return fmt.Errorf("invalid call_status %q", call.CallStatus)
	}
	if call.PriorityLevel == 0 {
		call.PriorityLevel = 1
	}
	if call.PriorityLevel < 1 || call.PriorityLevel > 5 {
		return fmt.Errorf("priority_level must be between 1 and 5")
	}
	now = now.UTC()
	if call.StartTime.IsZero() {
		call.StartTime = now
	}
	call.StartTime = call.StartTime.UTC()
	if call.EndTime != nil {
		end := call.EndTime.UTC()
		call.EndTime = &end
	}
	call.CreatedAt = now
	call.UpdatedAt = now
	return nil
}

// ListLimit clamps a requested page size.
func ListLimit(n int) int {
	const maxListLimit = 500
	if n <= 0 || n > maxListLimit {
		return maxListLimit
	}
	return n
}
