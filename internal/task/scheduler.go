package task

import (
	"context"
	"sync"
	"time"
)

// RunnerFunc executes one scheduled pass. A returned error shortens the next
// wait to the retry backoff instead of the full interval.
type RunnerFunc func(context.Context) error

// Scheduler drives a runner on a fixed interval with a manual trigger and a
// failure backoff.
type Scheduler struct {
	interval     time.Duration
	retryBackoff time.Duration
	runner       RunnerFunc
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewScheduler builds a Scheduler. Non-positive durations fall back to one
// minute between runs and to the interval itself for the backoff.
func NewScheduler(interval time.Duration, retryBackoff time.Duration, runner RunnerFunc) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if retryBackoff <= 0 || retryBackoff > interval {
		retryBackoff = interval
	}
	return &Scheduler{
		interval:     interval,
		retryBackoff: retryBackoff,
		runner:       runner,
		trigger:      make(chan struct{}, 1),
	}
}

// Start launches the scheduling loop. Starting an already-started scheduler
// is a no-op.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.runner == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	done := make(chan struct{})
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	go scheduler.loop(runtimeCtx, done)
}

// Trigger requests an immediate run without waiting for the interval.
func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for the in-flight run to finish.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	timer := time.NewTimer(scheduler.interval)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()
	defer func() {
		if done != nil {
			close(done)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
		case <-timer.C:
		}
		runErr := scheduler.run(ctx)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		nextWait := scheduler.interval
		if runErr != nil {
			nextWait = scheduler.retryBackoff
		}
		timer.Reset(nextWait)
	}
}

func (scheduler *Scheduler) run(ctx context.Context) error {
	if scheduler.runner == nil {
		return nil
	}
	return scheduler.runner(ctx)
}
