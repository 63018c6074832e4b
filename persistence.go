package tdev

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Persistence interface for saving run state.
type Persistence interface {
	Save(states []RunState) error
	Load() ([]RunState, error)
}

// RunState is the persisted state of a run.
type RunState struct {
	ID           string         `json:"id"`
	Pipeline     string         `json:"pipeline"`
	Request      ServiceRequest `json:"request"`
	Status       Status         `json:"status"`
	CurrentStage string         `json:"current_stage,omitempty"`
	WorkDir      string         `json:"work_dir,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	Metrics      RunMetrics     `json:"metrics"`
}

// JSONPersistence saves state to a JSON file.
type JSONPersistence struct {
	path string
	mu   sync.Mutex
}

// NewJSONPersistence creates a new JSON file persistence.
func NewJSONPersistence(path string) *JSONPersistence {
	return &JSONPersistence{path: path}
}

// Save writes state to the file.
func (p *JSONPersistence) Save(states []RunState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(p.path, data, 0644)
}

// Load reads state from the file.
func (p *JSONPersistence) Load() ([]RunState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var states []RunState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, err
	}

	return states, nil
}
