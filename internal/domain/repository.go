package domain

// TransferRepository defines the interface for transfer history persistence
type TransferRepository interface {
	// Create stores a new record
	Create(record *TransferRecord) error

	// Update updates an existing record
	Update(record *TransferRecord) error

	// FindByID finds a record by ID
	FindByID(id string) (*TransferRecord, error)

	// FindAll finds records with optional equality filters, newest first
	FindAll(filters map[string]interface{}) ([]*TransferRecord, error)

	// GetStats returns counts by state
	GetStats() (*TransferStats, error)

	// ResetInterrupted marks records left pending or active by a previous
	// process as failed
	ResetInterrupted() (int64, error)
}

// TransferStats represents transfer history statistics
type TransferStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}
