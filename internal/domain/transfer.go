package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransferState represents the lifecycle state of a transfer task
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferActive    TransferState = "active"
	TransferSucceeded TransferState = "succeeded"
	TransferFailed    TransferState = "failed"
	TransferCancelled TransferState = "cancelled"
)

// IsTerminal reports whether no further transitions can happen
func (s TransferState) IsTerminal() bool {
	return s == TransferSucceeded || s == TransferFailed || s == TransferCancelled
}

// IsInFlight reports whether the task still occupies its session slot
func (s TransferState) IsInFlight() bool {
	return s == TransferPending || s == TransferActive
}

// TransferTask identifies one in-flight or completed download
type TransferTask struct {
	ID              string
	SessionID       string
	SourceURL       string
	DestinationName string
	Progress        float64
	State           TransferState
	BytesWritten    int64
	TotalBytes      int64
	CreatedAt       time.Time
}

// NewTransferTask creates a task in the pending state
func NewTransferTask(sessionID, sourceURL, destinationName string) *TransferTask {
	return &TransferTask{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		SourceURL:       sourceURL,
		DestinationName: destinationName,
		State:           TransferPending,
		TotalBytes:      -1,
		CreatedAt:       time.Now(),
	}
}

// MarkActive moves a pending task to active
func (t *TransferTask) MarkActive() {
	if t.State == TransferPending {
		t.State = TransferActive
	}
}

// UpdateProgress records bytes written and recomputes the fraction. The
// fraction never decreases and stays 0 while the total size is unknown.
func (t *TransferTask) UpdateProgress(written, total int64) bool {
	t.BytesWritten = written
	if total > 0 {
		t.TotalBytes = total
	}
	if t.TotalBytes <= 0 {
		return false
	}
	fraction := float64(written) / float64(t.TotalBytes)
	if fraction > 1 {
		fraction = 1
	}
	if fraction <= t.Progress {
		return false
	}
	t.Progress = fraction
	return true
}

// Finish sets a terminal state
func (t *TransferTask) Finish(state TransferState) {
	if state == TransferSucceeded {
		t.Progress = 1
	}
	t.State = state
}

// IncomingDirName is the directory inside the documents area that holds
// partial downloads. It can never be a destination name.
const IncomingDirName = ".incoming"

// ValidateDestinationName checks that name can be used as a single file
// name inside the documents area. It performs no I/O.
func ValidateDestinationName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrMissingFilename
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return &TransferError{Kind: ErrorKindInvalidDestination, Err: fmt.Errorf("name %q contains a path separator", name)}
	}
	if name == "." || name == ".." || name == IncomingDirName {
		return &TransferError{Kind: ErrorKindInvalidDestination, Err: fmt.Errorf("name %q is not a file name", name)}
	}
	return nil
}

// ClipFileName formats a destination name from a clip's start time
func ClipFileName(start time.Time, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return start.Format("2006-01-02_15-04-05") + ext
}

// TransferRecord is the persisted history entry of a transfer
type TransferRecord struct {
	ID              string        `json:"id" gorm:"primaryKey"`
	SessionID       string        `json:"session_id,omitempty" gorm:"index"`
	SourceURL       string        `json:"source_url" gorm:"not null"`
	DestinationName string        `json:"destination_name"`
	FilePath        string        `json:"file_path,omitempty"`
	State           TransferState `json:"state" gorm:"not null;index"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	BytesWritten    int64         `json:"bytes_written"`
	CreatedAt       time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// TableName specifies the table name for GORM
func (TransferRecord) TableName() string {
	return "transfers"
}

// NewTransferRecord snapshots a task into a history record
func NewTransferRecord(task *TransferTask) *TransferRecord {
	return &TransferRecord{
		ID:              task.ID,
		SessionID:       task.SessionID,
		SourceURL:       task.SourceURL,
		DestinationName: task.DestinationName,
		State:           task.State,
		BytesWritten:    task.BytesWritten,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.CreatedAt,
	}
}

// MarkFinished fills the terminal fields of a record
func (r *TransferRecord) MarkFinished(state TransferState, filePath string, bytesWritten int64, err error) {
	r.State = state
	r.FilePath = filePath
	r.BytesWritten = bytesWritten
	if err != nil {
		r.ErrorKind = ErrorKind(err)
		r.ErrorMessage = err.Error()
	}
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
}
