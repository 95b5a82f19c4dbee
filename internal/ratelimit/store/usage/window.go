package usage

import "time"

// maxPrealloc bounds the capacity allocated up front from a limit hint.
// Rings still grow past it on demand; a live entry is never overwritten.
const maxPrealloc = 1 << 16

type entry struct {
	at     time.Time
	amount int
}

// Window is a ring buffer of timestamped amounts covering one sliding window.
// Entries are appended in time order, so expiry only ever pops from the head.
type Window struct {
	entries []entry
	head    int
	size    int
	total   int
	window  time.Duration
}

func newWindow(capacity int, window time.Duration) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{entries: make([]entry, capacity), window: window}
}

// Add records amount at now, purging expired entries first.
func (w *Window) Add(now time.Time, amount int) {
	w.purge(now)
	if w.size == len(w.entries) {
		w.resize(len(w.entries) * 2)
	}
	tail := (w.head + w.size) % len(w.entries)
	w.entries[tail] = entry{at: now, amount: amount}
	w.size++
	w.total += amount
}

// Used returns the in-window total and the oldest in-window timestamp.
func (w *Window) Used(now time.Time) (total int, oldest time.Time) {
	w.purge(now)
	if w.size == 0 {
		return 0, time.Time{}
	}
	return w.total, w.entries[w.head].at
}

// Len returns the number of live entries (after the last purge).
func (w *Window) Len() int {
	return w.size
}

// Cap returns the current ring capacity.
func (w *Window) Cap() int {
	return len(w.entries)
}

func (w *Window) purge(now time.Time) {
	cutoff := now.Add(-w.window)
	for w.size > 0 {
		oldest := w.entries[w.head]
		if oldest.at.After(cutoff) {
			return
		}
		w.total -= oldest.amount
		w.entries[w.head] = entry{}
		w.head = (w.head + 1) % len(w.entries)
		w.size--
	}
}

// resize copies live entries into a ring of the given capacity, keeping the
// newest entries when shrinking below the live count.
func (w *Window) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	next := make([]entry, capacity)
	skip := 0
	if w.size > capacity {
		skip = w.size - capacity
	}
	n := 0
	total := 0
	for i := skip; i < w.size; i++ {
		e := w.entries[(w.head+i)%len(w.entries)]
		next[n] = e
		total += e.amount
		n++
	}
	w.entries = next
	w.head = 0
	w.size = n
	w.total = total
}
