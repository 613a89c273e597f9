package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	RunID() string
}

// Topic constants
const (
	TopicRun   = "run"
	TopicTask  = "task"
	TopicCache = "cache"
	TopicScore = "score"
)

// Event type constants
const (
	EventTypeGraphBuilt   = "run.graph_built"
	EventTypeRunFinished  = "run.finished"
	EventTypeTaskExecuted = "task.executed"
	EventTypeBatchSpilled = "cache.spilled"
	EventTypeBatchLoaded  = "cache.loaded"
	EventTypeScoreUpdated = "score.updated"
)

// GraphBuiltEvent is published after a run's task graph is constructed.
type GraphBuiltEvent struct {
	Run       string
	Mode      string
	Tasks     int
	Steps     int
	Timestamp time.Time
}

func (e GraphBuiltEvent) EventType() string { return EventTypeGraphBuilt }
func (e GraphBuiltEvent) RunID() string     { return e.Run }

// TaskExecutedEvent is published each time the executor finishes a task.
type TaskExecutedEvent struct {
	Run       string
	Task      string
	Op        string
	Duration  time.Duration
	Space     int64
	Remaining int
	Timestamp time.Time
}

func (e TaskExecutedEvent) EventType() string { return EventTypeTaskExecuted }
func (e TaskExecutedEvent) RunID() string     { return e.Run }

// BatchSpilledEvent is published when the cache writes a batch to disk.
type BatchSpilledEvent struct {
	Run       string
	Batch     string
	Space     int64
	Timestamp time.Time
}

func (e BatchSpilledEvent) EventType() string { return EventTypeBatchSpilled }
func (e BatchSpilledEvent) RunID() string     { return e.Run }

// BatchLoadedEvent is published when the cache reads a spilled batch back.
type BatchLoadedEvent struct {
	Run       string
	Batch     string
	Space     int64
	Timestamp time.Time
}

func (e BatchLoadedEvent) EventType() string { return EventTypeBatchLoaded }
func (e BatchLoadedEvent) RunID() string     { return e.Run }

// ScoreUpdatedEvent is published when a metric task produces a score. For
// an incremental fit the scores arrive per batch while training runs.
type ScoreUpdatedEvent struct {
	Run       string
	Fold      string
	Batches   string
	Score     float64
	Timestamp time.Time
}

func (e ScoreUpdatedEvent) EventType() string { return EventTypeScoreUpdated }
func (e ScoreUpdatedEvent) RunID() string     { return e.Run }

// RunFinishedEvent is published once per run after the last task.
type RunFinishedEvent struct {
	Run       string
	Mode      string
	Scores    []float64
	Duration  time.Duration
	Err       string
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) RunID() string     { return e.Run }
