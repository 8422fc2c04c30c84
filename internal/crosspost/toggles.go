package crosspost

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ToggleBoard holds the per-platform "crosspost this" switches the user sees.
type ToggleBoard interface {
	Checked(p Platform) bool
	Set(p Platform, checked bool)
}

// MemoryBoard is a ToggleBoard kept in memory.
type MemoryBoard struct {
	mu    sync.RWMutex
	state map[Platform]bool
}

// NewMemoryBoard returns a board seeded with initial.
func NewMemoryBoard(initial map[Platform]bool) *MemoryBoard {
	state := make(map[Platform]bool, len(initial))
	for p, v := range initial {
		state[p] = v
	}
	return &MemoryBoard{state: state}
}

func (b *MemoryBoard) Checked(p Platform) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state[p]
}

func (b *MemoryBoard) Set(p Platform, checked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state[p] = checked
}

// Snapshot copies the current switch positions.
func (b *MemoryBoard) Snapshot() map[Platform]bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Platform]bool, len(b.state))
	for p, v := range b.state {
		out[p] = v
	}
	return out
}

type boardFile struct {
	Toggles map[Platform]bool `yaml:"toggles"`
}

// FileBoard is a MemoryBoard persisted as YAML so armed platforms survive between runs.
type FileBoard struct {
	*MemoryBoard
	path string
}

// LoadFileBoard reads the board at path. A missing file yields a board seeded from defaults.
func LoadFileBoard(path string, defaults map[Platform]bool) (*FileBoard, error) {
	board := &FileBoard{MemoryBoard: NewMemoryBoard(defaults), path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return board, nil
		}
		return nil, fmt.Errorf("read toggle state: %w", err)
	}

	var state boardFile
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse toggle state: %w", err)
	}
	for p, v := range state.Toggles {
		board.Set(p, v)
	}
	return board, nil
}

// Save writes the board back to disk.
func (b *FileBoard) Save() error {
	data, err := yaml.Marshal(boardFile{Toggles: b.Snapshot()})
	if err != nil {
		return fmt.Errorf("encode toggle state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("write toggle state: %w", err)
	}
	return nil
}
