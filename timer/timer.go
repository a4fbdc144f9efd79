// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

type Task struct {
	ID       int64
	Execute  time.Time
	Callback func()
	index    int
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*Task)
	task.index = n
	*q = append(*q, task)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// Manager schedules one-shot tasks. Remove before the task fires cancels it;
// Remove after it fired is a no-op, so cancellation happens at most once and
// whichever of fire/remove wins the mutex is authoritative.
type Manager struct {
	queue    taskQueue
	pending  map[int64]*Task
	mutex    sync.Mutex
	nextID   int64
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewManager() *Manager {
	manager := &Manager{
		queue:    make(taskQueue, 0),
		pending:  make(map[int64]*Task),
		nextID:   1,
		stopChan: make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// Add schedules callback to run once after delay and returns the task id.
func (m *Manager) Add(delay time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task := &Task{
		ID:       m.nextID,
		Execute:  time.Now().Add(delay),
		Callback: callback,
	}
	m.nextID++

	heap.Push(&m.queue, task)
	m.pending[task.ID] = task
	return task.ID
}

// Remove cancels a scheduled task. Returns false if the task already fired
// or never existed.
func (m *Manager) Remove(taskID int64) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, exists := m.pending[taskID]
	if !exists {
		return false
	}
	heap.Remove(&m.queue, task.index)
	delete(m.pending, taskID)
	return true
}

// Stop shuts down the processing loop. Pending tasks never fire.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

func (m *Manager) process() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.fireDue()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) fireDue() {
	m.mutex.Lock()
	now := time.Now()

	var due []*Task
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		delete(m.pending, task.ID)
		due = append(due, task)
	}
	m.mutex.Unlock()

	for _, task := range due {
		go task.Callback()
	}
}
