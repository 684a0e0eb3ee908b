package sandbox

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// watchdogTick is how often the timeout/memory check runs. Spec §8
// invariant 6 requires the terminal event to land within 2x this period
// after the deadline, so keep it short relative to typical timeouts.
const watchdogTick = 20 * time.Millisecond

const (
	interruptReasonTimeout = "timeout"
	interruptReasonMemory  = "memory"
)

// watchdog polls wall-clock elapsed time and process heap usage and calls
// vm.Interrupt when either exceeds its limit. vm.Interrupt is safe to call
// from a goroutine other than the one running the script (goja's
// documented mechanism for aborting long-running or infinite-looping
// guest code).
type watchdog struct {
	stopped int32
	done    chan struct{}
}

func startWatchdog(vm *goja.Runtime, timeoutMs, memMb int64) *watchdog {
	w := &watchdog{done: make(chan struct{})}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	memLimitBytes := uint64(memMb) * 1024 * 1024

	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)

	go func() {
		ticker := time.NewTicker(watchdogTick)
		defer ticker.Stop()
		for {
			select {
			case <-w.done:
				return
			case <-ticker.C:
				if atomic.LoadInt32(&w.stopped) == 1 {
					return
				}
				if memMb > 0 {
					var m runtime.MemStats
					runtime.ReadMemStats(&m)
					if m.Alloc > baseline.Alloc && m.Alloc-baseline.Alloc > memLimitBytes {
						vm.Interrupt(interruptReasonMemory)
						return
					}
				}
				if timeoutMs > 0 && time.Now().After(deadline) {
					vm.Interrupt(interruptReasonTimeout)
					return
				}
			}
		}
	}()
	return w
}

func (w *watchdog) stop() {
	atomic.StoreInt32(&w.stopped, 1)
	close(w.done)
}
