package scheduler

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/trellis-ml/trellis/internal/events"
)

// batchCache budgets the resident space of all live batches. When a new
// batch would push the total past the ceiling, it spills resident batches
// to disk in reverse priority order until the new one fits.
type batchCache struct {
	g           *Graph
	maxResident int64
	policy      Policy
	spillDir    string
	log         *slog.Logger
	bus         *events.Bus
	runID       string
	stats       *RunStats
}

// newBatchCache creates the cache. A ceiling of math.MaxInt64 means
// unbounded; only a bounded cache gets a spill directory.
func newBatchCache(g *Graph, maxResident int64, policy Policy, log *slog.Logger, bus *events.Bus, runID string) (*batchCache, error) {
	c := &batchCache{
		g:           g,
		maxResident: maxResident,
		policy:      policy,
		log:         log,
		bus:         bus,
		runID:       runID,
		stats:       &RunStats{MaxResident: maxResident},
	}
	if maxResident < math.MaxInt64 {
		dir, err := os.MkdirTemp("", "trellis-spill-")
		if err != nil {
			return nil, fmt.Errorf("failed to create spill directory: %w", err)
		}
		c.spillDir = dir
	}
	return c, nil
}

// close removes the spill directory and everything still in it.
func (c *batchCache) close() {
	if c.spillDir != "" {
		os.RemoveAll(c.spillDir)
	}
}

// applyPreds returns the apply predecessors of t, all of which must
// already hold a batch.
func (c *batchCache) applyPreds(t *task) []*task {
	var preds []*task
	for _, p := range t.preds {
		pred := c.g.tasks[p]
		if pred.kind != KindApply {
			continue
		}
		if pred.batch == nil {
			panic(fmt.Sprintf("apply pred %s of %s has no batch", pred, t))
		}
		preds = append(preds, pred)
	}
	return preds
}

// estimateSpace guesses the size of the batch t is about to produce. Any
// existing batch of the same step is taken as representative; before one
// exists, an input scan assumes the minimum and other steps assume they
// preserve the size of their inputs.
func (c *batchCache) estimateSpace(t *task) int64 {
	for _, other := range c.g.tasks {
		if other == t || other.kind != KindApply {
			continue
		}
		if other.step == t.step && other.batch != nil {
			return other.batch.space
		}
	}
	if t.step == InputStep {
		return 1 // safe to underestimate on the first batch scanned
	}
	var sum int64
	for _, pred := range c.applyPreds(t) {
		sum += pred.batch.space
	}
	return sum
}

// ensureSpace evicts resident batches until amount more fits under the
// ceiling. Batches in noSpill are pinned because the caller is about to
// use them; when the pinned set alone exceeds the ceiling, the cache
// warns and overshoots rather than deadlock.
func (c *batchCache) ensureSpace(amount int64, noSpill map[*Batch]bool) error {
	var noSpillSpace int64
	for b := range noSpill {
		noSpillSpace += b.space
	}
	minResident := amount + noSpillSpace
	if minResident > c.stats.MinResident {
		c.stats.MinResident = minResident
	}
	var resident []*Batch
	var residentSpace int64
	for _, t := range c.g.tasks {
		if t.kind == KindApply && t.batch != nil && !t.batch.spilled {
			resident = append(resident, t.batch)
			residentSpace += t.batch.space
		}
	}
	prios := make(map[*Batch]Priority, len(resident))
	for _, b := range resident {
		prios[b] = batchPriority(c.g, c.policy, b)
	}
	sort.SliceStable(resident, func(i, j int) bool {
		return prios[resident[i]].Less(prios[resident[j]])
	})
	for residentSpace+amount > c.maxResident {
		if len(resident) == 0 {
			c.log.Warn("failed to make space in batch cache",
				"amount_needed", amount,
				"no_spill_space", noSpillSpace,
				"min_resident", minResident,
				"max_resident", c.maxResident)
			break
		}
		b := resident[len(resident)-1]
		resident = resident[:len(resident)-1]
		if noSpill[b] {
			c.log.Warn("aborted spill of pinned batch", "batch", b.name)
			continue
		}
		if err := b.spill(c.spillDir); err != nil {
			return err
		}
		c.stats.SpillCount++
		c.stats.SpillSpace += b.space
		c.log.Debug("spilled batch", "batch", b.name, "space", b.space)
		if c.bus != nil {
			c.bus.Publish(events.TopicCache, events.BatchSpilledEvent{
				Run:       c.runID,
				Batch:     b.name,
				Space:     b.space,
				Timestamp: time.Now(),
			})
		}
		residentSpace -= b.space
	}
	return nil
}

// loadInputBatches brings every spilled input of t back into memory,
// pinning all of t's inputs so making space for one cannot evict another.
func (c *batchCache) loadInputBatches(t *task) error {
	applyPreds := c.applyPreds(t)
	noSpill := make(map[*Batch]bool, len(applyPreds))
	for _, pred := range applyPreds {
		noSpill[pred.batch] = true
	}
	for _, pred := range applyPreds {
		b := pred.batch
		if !b.spilled {
			continue
		}
		if err := c.ensureSpace(b.space, noSpill); err != nil {
			return err
		}
		if err := b.load(c.spillDir); err != nil {
			return err
		}
		c.stats.LoadCount++
		c.stats.LoadSpace += b.space
		c.log.Debug("loaded batch", "batch", b.name, "space", b.space)
		if c.bus != nil {
			c.bus.Publish(events.TopicCache, events.BatchLoadedEvent{
				Run:       c.runID,
				Batch:     b.name,
				Space:     b.space,
				Timestamp: time.Now(),
			})
		}
	}
	for _, pred := range applyPreds {
		if pred.batch.spilled {
			panic(fmt.Sprintf("batch %s still spilled after load", pred.batch.name))
		}
	}
	return nil
}
