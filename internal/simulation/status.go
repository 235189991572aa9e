package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"trainflow/internal/fileutil"
	"trainflow/internal/model"
)

// Status is the snapshot written to the status file after every change.
// Readers take the whole file; writes are atomic replaces.
type Status struct {
	IsRunning       bool           `json:"is_running"`
	State           State          `json:"state"`
	RunID           string         `json:"run_id,omitempty"`
	StartTime       *time.Time     `json:"start_time"`
	LastUpdated     time.Time      `json:"last_updated"`
	GenerationCount int            `json:"generation_count"`
	RowsAdded       int            `json:"rows_added"`
	TrainingCount   int            `json:"training_count"`
	CurrentDate     *string        `json:"current_date"`
	TempDataFile    *string        `json:"temp_data_file"`
	TempModelFile   *string        `json:"temp_model_file"`
	OwningPID       int            `json:"owning_pid,omitempty"`
	LastMetrics     *model.Metrics `json:"last_metrics,omitempty"`
}

// StoppedStatus is what Status reports when no status file exists.
func StoppedStatus(now time.Time) Status {
	return Status{State: Stopped, LastUpdated: now.UTC()}
}

func WriteStatus(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := fileutil.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// ReadStatus reads the status file. A missing file is a stopped simulation.
func ReadStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return StoppedStatus(time.Now()), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("decode status %s: %w", path, err)
	}
	return st, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
