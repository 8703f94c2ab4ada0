package exec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/behrlich/kernelcore/internal/smp"
)

func TestRunCompletesImmediatelyReadyTask(t *testing.T) {
	e := NewExecutor(nil)
	ran := false
	e.Spawn(func(w *Waker) bool {
		ran = true
		return true
	})
	e.Run()
	assert.True(t, ran)
}

func TestRunDrivesTaskToCompletionViaWaker(t *testing.T) {
	e := NewExecutor(nil)
	polls := 0

	e.Spawn(func(w *Waker) bool {
		polls++
		if polls < 3 {
			go w.Wake()
			return false
		}
		return true
	})

	// Run blocks internally until the task table drains, even though the
	// task needs several re-wakes to finish.
	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never drained the re-woken task")
	}
	assert.Equal(t, 3, polls)
}

func TestRunWithEmptyDispatcherRunsInline(t *testing.T) {
	// A dispatcher with no registered CPUs still lets tasks complete inline,
	// exercising the "no idle CPU available" fallback path.
	d := smp.NewDispatcher()

	e := NewExecutor(d)
	ran := make(chan struct{})
	e.Spawn(func(w *Waker) bool {
		close(ran)
		return true
	})
	e.Run()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task never ran with empty dispatcher CPU set")
	}
}

func TestMultipleTasksAllComplete(t *testing.T) {
	e := NewExecutor(nil)
	const n = 20
	done := make([]bool, n)
	for i := 0; i < n; i++ {
		i := i
		e.Spawn(func(w *Waker) bool {
			done[i] = true
			return true
		})
	}
	e.Run()
	for i, d := range done {
		assert.True(t, d, "task %d did not run", i)
	}
}
