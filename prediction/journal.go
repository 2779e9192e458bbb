package prediction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/web3guy0/gatekeeper/types"
)

// Journal is an append-only sink for newly recorded predictions
type Journal interface {
	Append(p *types.Prediction) error
}

// FileJournal writes one JSON object per line. Lines are written at creation
// time and never rewritten.
type FileJournal struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileJournal opens (or creates) a line-delimited prediction log
func OpenFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &FileJournal{file: f}, nil
}

// Append writes p as a single line
func (j *FileJournal) Append(p *types.Prediction) error {
	line, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
