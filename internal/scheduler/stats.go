package scheduler

import "time"

// RunStats aggregates cache traffic and executed work over one run. The
// space fields count the same abstract units frames report, the critical
// fields describe the longest dependency chain the run executed.
type RunStats struct {
	SpillCount  int
	LoadCount   int
	SpillSpace  int64
	LoadSpace   int64
	MinResident int64
	MaxResident int64

	TrainCount  int
	ApplyCount  int
	MetricCount int
	TrainTime   time.Duration
	ApplyTime   time.Duration
	MetricTime  time.Duration

	CriticalCount int
	CriticalTime  time.Duration
}

// traceEntry records one executed task while the graph is still alive.
type traceEntry struct {
	t     *task
	op    Operation
	dur   time.Duration
	space int64
}

// TraceRecord is the exported view of one executed task, in execution
// order.
type TraceRecord struct {
	Seq      int
	Kind     TaskKind
	Op       Operation
	Step     int
	StepName string
	Batches  string
	HeldOut  string
	Duration time.Duration
	Space    int64
}

// analyzeTrace folds a trace into stats: per-kind counts and times plus
// the critical path, the heaviest dependency chain by task count and by
// wall time. Tasks that finished without executing, like those absorbed
// by a saturating monoid, contribute zero depth.
func analyzeTrace(g *Graph, entries []traceEntry, stats *RunStats) {
	criticalCount := make(map[memoKey]int, len(entries))
	criticalTime := make(map[memoKey]time.Duration, len(entries))
	for _, e := range entries {
		switch e.t.kind {
		case KindTrain:
			stats.TrainCount++
			stats.TrainTime += e.dur
		case KindApply:
			stats.ApplyCount++
			stats.ApplyTime += e.dur
		case KindMetric:
			stats.MetricCount++
			stats.MetricTime += e.dur
		}
		var maxCount int
		var maxTime time.Duration
		for _, p := range e.t.preds {
			key := g.tasks[p].key()
			if c := criticalCount[key]; c > maxCount {
				maxCount = c
			}
			if d := criticalTime[key]; d > maxTime {
				maxTime = d
			}
		}
		count := 1 + maxCount
		if count > stats.CriticalCount {
			stats.CriticalCount = count
		}
		criticalCount[e.t.key()] = count
		total := e.dur + maxTime
		if total > stats.CriticalTime {
			stats.CriticalTime = total
		}
		criticalTime[e.t.key()] = total
	}
}

// renderTrace converts internal trace entries to their exported form.
func renderTrace(g *Graph, entries []traceEntry) []TraceRecord {
	records := make([]TraceRecord, len(entries))
	for i, e := range entries {
		records[i] = TraceRecord{
			Seq:      i,
			Kind:     e.t.kind,
			Op:       e.op,
			Step:     e.t.step,
			StepName: g.stepName(e.t.step),
			Batches:  e.t.batchIDs.Key(),
			HeldOut:  string(e.t.heldOut),
			Duration: e.dur,
			Space:    e.space,
		}
	}
	return records
}
