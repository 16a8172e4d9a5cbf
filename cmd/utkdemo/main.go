// Command utkdemo boots a kernel instance and runs a small worker/counter
// scenario against it, printing the resulting metrics. It plays the same
// role cmd/ublk-mem did for the memory-backed block device: a minimal,
// runnable demonstration of the library rather than a product in itself.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	utkcore "github.com/oxmose/utkcore"
	"github.com/oxmose/utkcore/internal/ksync"
	"github.com/oxmose/utkcore/internal/logging"
	"github.com/oxmose/utkcore/internal/sched"
)

func main() {
	var (
		numCPU   = flag.Int("cpus", 0, "Number of simulated CPUs (0 = auto)")
		workers  = flag.Int("workers", 8, "Number of contending worker threads")
		perWork  = flag.Int("iterations", 10000, "Lock/increment iterations per worker")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := utkcore.DefaultConfig()
	if *numCPU > 0 {
		cfg.NumCPU = *numCPU
	}

	kernel, err := utkcore.Boot(cfg)
	if err != nil {
		log.Fatalf("boot failed: %v", err)
	}
	defer kernel.Shutdown()

	logger.Info("kernel booted", "cpus", kernel.Info().NumCPU)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go runCounterScenario(kernel, *workers, *perWork, done)

	select {
	case <-done:
		logger.Info("scenario finished")
	case <-sigCh:
		logger.Info("received shutdown signal")
	}

	snap := kernel.MetricsSnapshot()
	fmt.Printf("dispatches=%d context_switches=%d futex_waits=%d futex_wakes=%d\n",
		snap.Dispatches, snap.ContextSwitches, snap.FutexWaits, snap.FutexWakeOps)
	fmt.Printf("avg context-switch latency: %s\n", time.Duration(snap.AvgContextSwitchLatencyNs))
}

// runCounterScenario spawns numWorkers threads that each increment a
// mutex-protected shared counter iterations times, then reports the final
// count once every worker has joined.
func runCounterScenario(k *utkcore.Kernel, numWorkers, iterations int, done chan<- struct{}) {
	defer close(done)

	mu := k.NewMutex(false, ksync.NoElevation)
	counter := 0
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	ids := make([]sched.ThreadID, numWorkers)
	for i := 0; i < numWorkers; i++ {
		id, err := k.Scheduler.Spawn(nil, fmt.Sprintf("worker-%d", i), sched.UserThread, 10, -1,
			func(self *sched.Thread, arg any) {
				defer wg.Done()
				for j := 0; j < iterations; j++ {
					if err := mu.Lock(self); err != nil {
						return
					}
					counter++
					if err := mu.Unlock(self); err != nil {
						return
					}
				}
			}, nil)
		if err != nil {
			logging.Error("spawn failed", "worker", i, "error", err)
			continue
		}
		ids[i] = id
	}

	wg.Wait()
	for _, id := range ids {
		_, _, _, _ = k.Scheduler.Join(id)
	}

	fmt.Printf("final counter: %d (expected %d)\n", counter, numWorkers*iterations)
}
