package logging

import (
	"sync"

	"github.com/iomekam/dapp-inter/internal/buffer"
)

// LogBuffer retains the most recent log entries in memory.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[Entry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{entries: buffer.NewRing[Entry](size)}
}

func (b *LogBuffer) Add(entry Entry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) List() []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Find returns buffered entries with the given message, oldest first.
func (b *LogBuffer) Find(message string) []Entry {
	var matches []Entry
	for _, entry := range b.List() {
		if entry.Message == message {
			matches = append(matches, entry)
		}
	}
	return matches
}
