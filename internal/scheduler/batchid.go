// Package scheduler turns a trainable pipeline and a stream of data batches
// into a task graph and executes it under a memory budget.
//
// A run builds the graph up front (fit or cross-validation shape), then a
// single-threaded loop repeatedly executes the highest-priority ready task.
// Intermediate batches live in a cache that spills the least useful ones to
// disk when a resident-byte ceiling is configured.
package scheduler

import (
	"strconv"
	"strings"
)

// Fold identifies a cross-validation fold by a single letter. The empty
// fold means "none": plain fit uses it as the held-out marker of every
// task, and cross-validation uses it for tasks that are shared between
// folds.
type Fold string

// NoFold is the absent fold marker.
const NoFold Fold = ""

// FoldID returns the i-th fold letter. Folds count up from "d" so that
// batch ids stay visually distinct from step indices.
func FoldID(i int) Fold {
	return Fold(rune('d' + i))
}

// BatchID names one batch of input data: the fold it belongs to plus its
// position within the fold. Batch ids are totally ordered by (fold, index).
type BatchID struct {
	Fold Fold
	Idx  int
}

func (b BatchID) String() string {
	return string(b.Fold) + strconv.Itoa(b.Idx)
}

// Compare orders batch ids by fold, then index.
func (b BatchID) Compare(o BatchID) int {
	if b.Fold != o.Fold {
		if b.Fold < o.Fold {
			return -1
		}
		return 1
	}
	switch {
	case b.Idx < o.Idx:
		return -1
	case b.Idx > o.Idx:
		return 1
	}
	return 0
}

// BatchIDs is an ordered tuple of batch ids. Tuples compare like sequences:
// element by element, with a strict prefix ordering before any extension.
type BatchIDs []BatchID

// Compare orders tuples lexicographically.
func (ids BatchIDs) Compare(other BatchIDs) int {
	for i := range ids {
		if i >= len(other) {
			return 1
		}
		if c := ids[i].Compare(other[i]); c != 0 {
			return c
		}
	}
	if len(ids) < len(other) {
		return -1
	}
	return 0
}

// Key returns the canonical comma-joined form used for memoization.
func (ids BatchIDs) Key() string {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(id.String())
	}
	return sb.String()
}

func (ids BatchIDs) String() string { return ids.Key() }

// fitBatchIDs returns the n batch ids of a plain fit, all in the first
// fold.
func fitBatchIDs(n int) BatchIDs {
	ids := make(BatchIDs, n)
	for i := range ids {
		ids[i] = BatchID{Fold: FoldID(0), Idx: i}
	}
	return ids
}

// foldBatchIDs returns the batch ids of one fold.
func foldBatchIDs(fold Fold, nPerFold int) BatchIDs {
	ids := make(BatchIDs, nPerFold)
	for i := range ids {
		ids[i] = BatchID{Fold: fold, Idx: i}
	}
	return ids
}

// batchIDsExcept returns the batch ids of every fold but heldOut, in fold
// order. With heldOut empty it returns all batch ids.
func batchIDsExcept(folds []Fold, nPerFold int, heldOut Fold) BatchIDs {
	ids := make(BatchIDs, 0, len(folds)*nPerFold)
	for _, fold := range folds {
		if fold == heldOut {
			continue
		}
		for i := 0; i < nPerFold; i++ {
			ids = append(ids, BatchID{Fold: fold, Idx: i})
		}
	}
	return ids
}

// allFolds returns the first n fold letters.
func allFolds(n int) []Fold {
	folds := make([]Fold, n)
	for i := range folds {
		folds[i] = FoldID(i)
	}
	return folds
}

