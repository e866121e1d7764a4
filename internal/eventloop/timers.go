package eventloop

import (
	"container/heap"
	"time"
)

const (
	minTimerDelay    = time.Millisecond
	nestedTimerDelay = 4 * time.Millisecond
	maxTimerNesting  = 5
)

// TimerSpec describes a timer to schedule.
type TimerSpec struct {
	Delay time.Duration
	// Repeat makes the timer fire every Delay until cleared.
	Repeat   bool
	Callback func()
	// Release runs once when the timer is cleared or its last firing ends.
	Release func()
}

// timer is one entry of the timer table.
type timer struct {
	id        int
	seq       uint64
	deadline  time.Time
	interval  time.Duration
	nesting   int
	cancelled bool
	callback  func()
	release   func()
	index     int
}

func (t *timer) finish() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

// timerHeap orders timers by deadline, then by creation order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func clampDelay(d time.Duration, nesting int) time.Duration {
	if d < minTimerDelay {
		d = minTimerDelay
	}
	if nesting > maxTimerNesting && d < nestedTimerDelay {
		d = nestedTimerDelay
	}
	return d
}

// AddTimer schedules a timer and returns its id. Ids are unique and
// increase in creation order.
func (l *Loop) AddTimer(spec TimerSpec) int {
	l.nextID++
	l.seq++
	nesting := l.nesting + 1
	delay := clampDelay(spec.Delay, nesting)
	t := &timer{
		id:       l.nextID,
		seq:      l.seq,
		deadline: l.now().Add(delay),
		nesting:  nesting,
		callback: spec.Callback,
		release:  spec.Release,
	}
	if spec.Repeat {
		t.interval = delay
	}
	if l.closed {
		t.finish()
		return t.id
	}
	l.timerByID[t.id] = t
	heap.Push(&l.timers, t)
	return t.id
}

// SetTimeout schedules fn once after delay.
func (l *Loop) SetTimeout(delay time.Duration, fn func()) int {
	return l.AddTimer(TimerSpec{Delay: delay, Callback: fn})
}

// SetInterval schedules fn every interval.
func (l *Loop) SetInterval(interval time.Duration, fn func()) int {
	return l.AddTimer(TimerSpec{Delay: interval, Repeat: true, Callback: fn})
}

// ClearTimer cancels a timer. A cancelled timer never fires again, even if
// its deadline has already passed. It reports whether id was live.
func (l *Loop) ClearTimer(id int) bool {
	t, ok := l.timerByID[id]
	if !ok {
		return false
	}
	t.cancelled = true
	delete(l.timerByID, id)
	t.finish()
	return true
}

// Timers returns the number of live timers.
func (l *Loop) Timers() int {
	return len(l.timerByID)
}

// nextTimer returns the earliest live timer, discarding cancelled ones.
func (l *Loop) nextTimer() *timer {
	for l.timers.Len() > 0 {
		t := l.timers[0]
		if !t.cancelled {
			return t
		}
		heap.Pop(&l.timers)
	}
	return nil
}

// fire runs a due timer. Repeating timers are rescheduled at fire time plus
// their interval before the callback runs, so the callback may clear them.
func (l *Loop) fire(t *timer) {
	heap.Pop(&l.timers)
	if t.interval > 0 {
		t.nesting++
		t.interval = clampDelay(t.interval, t.nesting)
		t.deadline = l.now().Add(t.interval)
		heap.Push(&l.timers, t)
	} else {
		delete(l.timerByID, t.id)
	}

	prev := l.nesting
	l.nesting = t.nesting
	l.runTask(t.callback)
	l.nesting = prev

	if t.interval == 0 {
		t.finish()
	}
}

func (l *Loop) clearTimers() {
	for _, t := range l.timerByID {
		t.cancelled = true
		t.finish()
	}
	l.timerByID = make(map[int]*timer)
	l.timers = nil
}
