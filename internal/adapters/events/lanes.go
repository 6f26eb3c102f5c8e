package events

import (
	"hash/fnv"
	"sync"
	"time"
)

// lanes is a fixed arena of sequential work queues. Every task carries a
// partition key; tasks sharing a key land on the same lane and run in
// arrival order, which serializes all events for one rider without any
// global lock.
type lanes struct {
	queues []chan task
	wg     sync.WaitGroup
	run    func(task)
}

func newLanes(count, buffer int, run func(task)) *lanes {
	l := &lanes{
		queues: make([]chan task, count),
		run:    run,
	}
	for i := range l.queues {
		l.queues[i] = make(chan task, buffer)
	}
	return l
}

func (l *lanes) start() {
	for _, queue := range l.queues {
		l.wg.Add(1)
		go func(queue chan task) {
			defer l.wg.Done()
			for t := range queue {
				l.run(t)
			}
		}(queue)
	}
}

// dispatch enqueues a task on its key's lane, blocking while the lane is
// full. Backpressure propagates to the consume loop, which stops pulling
// from the bus until a slot frees up.
func (l *lanes) dispatch(t task) {
	h := fnv.New32a()
	h.Write([]byte(t.key))
	l.queues[int(h.Sum32())%len(l.queues)] <- t
}

// drain closes all lanes and waits for in-flight tasks up to the grace
// period. It reports whether every lane finished in time; abandoned
// tasks are completed later through bus redelivery.
func (l *lanes) drain(grace time.Duration) bool {
	for _, queue := range l.queues {
		close(queue)
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
