package queue

import (
	"errors"

	"github.com/JanekDr/music-hub/internal/catalog"
)

// Queue maintains the ordered list of queue entries and the current cursor.
// Entries carry persistence-assigned ids distinct from track ids, so the same
// track may appear more than once. The cursor keeps pointing at the same
// logical entry across mutations; when that entry is removed it is clamped
// into range.
type Queue struct {
	entries []catalog.QueueEntry
	current int // -1 before first play
}

var (
	ErrEmpty      = errors.New("queue is empty")
	ErrEndOfQueue = errors.New("end of queue")
	ErrBadReorder = errors.New("reorder is not a permutation of the queue")
)

func New() *Queue {
	return &Queue{entries: []catalog.QueueEntry{}, current: -1}
}

// Entries returns a copy of the ordered entries.
func (q *Queue) Entries() []catalog.QueueEntry {
	out := make([]catalog.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *Queue) Len() int { return len(q.entries) }

func (q *Queue) CurrentIndex() int { return q.current }

// Current returns the entry under the cursor.
func (q *Queue) Current() (catalog.QueueEntry, error) {
	if q.current < 0 || q.current >= len(q.entries) {
		return catalog.QueueEntry{}, ErrEmpty
	}
	return q.entries[q.current], nil
}

// Append adds entries at the end. The cursor is not moved; it is only
// initialized to 0 when the queue was empty.
func (q *Queue) Append(entries ...catalog.QueueEntry) {
	q.entries = append(q.entries, entries...)
	if q.current == -1 && len(q.entries) > 0 {
		q.current = 0
	}
}

// RemoveResult reports what a Remove did, so the orchestrator can decide
// whether the active driver must be stopped.
type RemoveResult struct {
	Index          int
	WasCurrent     bool
	QueueNowEmpty  bool
	CurrentClamped bool
}

// Remove deletes the entry with the given id. When the removed entry was the
// current one, the cursor is clamped to min(index, len-1).
func (q *Queue) Remove(entryID string) (RemoveResult, error) {
	idx := q.indexOf(entryID)
	if idx < 0 {
		return RemoveResult{}, errors.New("entry not in queue")
	}
	res := RemoveResult{Index: idx, WasCurrent: idx == q.current}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	if len(q.entries) == 0 {
		q.current = -1
		res.QueueNowEmpty = true
		return res, nil
	}
	if idx < q.current {
		q.current--
	} else if res.WasCurrent && q.current >= len(q.entries) {
		q.current = len(q.entries) - 1
		res.CurrentClamped = true
	}
	return res, nil
}

// Reorder installs a new ordering given as a permutation of the current
// entry ids. Anything that is not an exact permutation is rejected and the
// queue left unchanged.
func (q *Queue) Reorder(orderedIDs []string) error {
	if len(orderedIDs) != len(q.entries) {
		return ErrBadReorder
	}
	byID := make(map[string]catalog.QueueEntry, len(q.entries))
	for _, e := range q.entries {
		if _, dup := byID[e.EntryID]; dup {
			return ErrBadReorder
		}
		byID[e.EntryID] = e
	}
	var currentID string
	if q.current >= 0 {
		currentID = q.entries[q.current].EntryID
	}
	next := make([]catalog.QueueEntry, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		e, ok := byID[id]
		if !ok {
			return ErrBadReorder
		}
		delete(byID, id)
		next = append(next, e)
	}
	q.entries = next
	if currentID != "" {
		q.current = q.indexOf(currentID)
	}
	return nil
}

// ReplaceAll clears the queue and installs entries with the cursor reset to
// the first entry ("play this whole playlist now").
func (q *Queue) ReplaceAll(entries []catalog.QueueEntry) {
	q.entries = make([]catalog.QueueEntry, len(entries))
	copy(q.entries, entries)
	if len(q.entries) == 0 {
		q.current = -1
		return
	}
	q.current = 0
}

// SetCurrent moves the cursor to idx.
func (q *Queue) SetCurrent(idx int) error {
	if idx < 0 || idx >= len(q.entries) {
		return errors.New("index out of range")
	}
	q.current = idx
	return nil
}

// Next advances the cursor and returns the new current entry. At the last
// entry it returns ErrEndOfQueue and leaves the cursor unchanged; the queue
// never wraps.
func (q *Queue) Next() (catalog.QueueEntry, error) {
	if len(q.entries) == 0 {
		return catalog.QueueEntry{}, ErrEmpty
	}
	if q.current >= len(q.entries)-1 {
		return catalog.QueueEntry{}, ErrEndOfQueue
	}
	q.current++
	return q.entries[q.current], nil
}

// Prev moves the cursor back one entry, staying on the first.
func (q *Queue) Prev() (catalog.QueueEntry, error) {
	if len(q.entries) == 0 {
		return catalog.QueueEntry{}, ErrEmpty
	}
	if q.current > 0 {
		q.current--
	}
	return q.entries[q.current], nil
}

// EntryIDs returns the current ordering of entry ids.
func (q *Queue) EntryIDs() []string {
	out := make([]string, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.EntryID
	}
	return out
}

func (q *Queue) Clear() {
	q.entries = nil
	q.current = -1
}

func (q *Queue) indexOf(entryID string) int {
	for i, e := range q.entries {
		if e.EntryID == entryID {
			return i
		}
	}
	return -1
}
