package logging

import "time"

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var levelRanks = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

func (l Level) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

// rank orders levels; unknown levels rank as info.
func (l Level) rank() int {
	if rank, ok := levelRanks[l]; ok {
		return rank
	}
	return levelRanks[LevelInfo]
}

// Category names the part of storagewatch that wrote an entry.
type Category string

const (
	CategoryNone    Category = ""
	CategoryWatcher Category = "watcher"
	CategoryStream  Category = "stream"
	CategoryCLI     Category = "cli"
)

// Entry is one log record as kept in a LogBuffer.
type Entry struct {
	Time     time.Time         `json:"time"`
	Level    Level             `json:"level"`
	Category Category          `json:"category,omitempty"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}
