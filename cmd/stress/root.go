package stress

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/lockwatch/cmd/util"
	"github.com/ValentinKolb/lockwatch/lib/coordinator"
	"github.com/ValentinKolb/lockwatch/lib/lockmgr"
	"github.com/ValentinKolb/lockwatch/lib/mutex"
	libutil "github.com/ValentinKolb/lockwatch/lib/util"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	StressCmd = &cobra.Command{
		Use:   "stress",
		Short: "Run workers against a pool of instrumented locks",
		Long: `Starts a number of workers that repeatedly pick a random lock, increment
the counter behind it and release it again. At the end the counters are checked
for lost updates and wait times, fairness and coordinator statistics are printed.

With --keys the workers use the keyed lock manager instead of the mutexes directly.`,
		PreRunE: processStressConfig,
		RunE:    run,
	}
	stressWorkers    = 8
	stressLocks      = 4
	stressIterations = 1000
	stressHold       = time.Duration(0)
	stressKeys       = false
	stressMetrics    = false
)

func init() {
	key := "workers"
	StressCmd.Flags().Int(key, 8, util.WrapString("Number of concurrent workers"))
	key = "locks"
	StressCmd.Flags().Int(key, 4, util.WrapString("Number of locks the workers compete for"))
	key = "iterations"
	StressCmd.Flags().Int(key, 1000, util.WrapString("Acquisitions per worker"))
	key = "hold"
	StressCmd.Flags().Duration(key, 0, util.WrapString("How long each worker holds a lock (e.g. 1ms)"))
	key = "keys"
	StressCmd.Flags().Bool(key, false, util.WrapString("Use the keyed lock manager instead of the mutexes"))
	key = "metrics"
	StressCmd.Flags().Bool(key, false, util.WrapString("Dump the coordinator metrics in Prometheus format at the end"))
}

func processStressConfig(_ *cobra.Command, _ []string) error {
	stressWorkers = viper.GetInt("workers")
	stressLocks = viper.GetInt("locks")
	stressIterations = viper.GetInt("iterations")
	stressHold = viper.GetDuration("hold")
	stressKeys = viper.GetBool("keys")
	stressMetrics = viper.GetBool("metrics")

	if stressWorkers <= 0 || stressLocks <= 0 || stressIterations <= 0 {
		return errors.New("workers, locks and iterations must be positive")
	}
	return nil
}

// counterPool abstracts the two ways the workers increment a shared counter
type counterPool interface {
	increment(i int) error
	totals() ([]int64, error)
	close() error
}

func run(_ *cobra.Command, _ []string) error {
	opts := util.GetCoordinatorOptions()
	coord := coordinator.New(opts)
	defer coord.Close()

	fmt.Println("Stress test for lockwatch mutexes")
	fmt.Println(opts.String())
	fmt.Printf("Workers: %d, Locks: %d, Iterations: %d, Hold: %s, Keys: %t\n\n",
		stressWorkers, stressLocks, stressIterations, stressHold, stressKeys)

	var pool counterPool
	if stressKeys {
		pool = newKeyPool(coord, stressLocks)
	} else {
		pool = newMutexPool(coord, stressLocks)
	}

	waits := gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015))
	perWorker := make([]float64, stressWorkers)
	errs := make(chan error, stressWorkers)

	start := time.Now()
	var wg sync.WaitGroup
	for w := range stressWorkers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(start.UnixNano()), uint64(w)))
			for range stressIterations {
				t0 := time.Now()
				if err := pool.increment(rng.IntN(stressLocks)); err != nil {
					errs <- fmt.Errorf("worker %d: %w", w, err)
					return
				}
				waits.Update(time.Since(t0).Microseconds())
				perWorker[w]++
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)
	close(errs)

	if err, ok := <-errs; ok {
		return err
	}

	totals, err := pool.totals()
	if err != nil {
		return err
	}
	if err := pool.close(); err != nil {
		return err
	}

	// check for lost updates
	var sum int64
	for _, t := range totals {
		sum += t
	}
	expected := int64(stressWorkers * stressIterations)

	ops := float64(expected) / elapsed.Seconds()
	fmt.Printf("%-20s%s\n", "Elapsed:", elapsed)
	fmt.Printf("%-20s%.0f ops/sec\n", "Throughput:", ops)
	fmt.Printf("%-20s%d (expected %d)\n", "Increments:", sum, expected)

	ps := waits.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Println()
	fmt.Println("Acquire+release latency (µs):")
	fmt.Printf("  %-10s%.1f\n", "mean", waits.Mean())
	fmt.Printf("  %-10s%.0f\n", "p50", ps[0])
	fmt.Printf("  %-10s%.0f\n", "p95", ps[1])
	fmt.Printf("  %-10s%.0f\n", "p99", ps[2])
	fmt.Printf("  %-10s%d\n", "max", waits.Max())

	fairness := libutil.NewDistributionStats(perWorker)
	spread := make([]float64, len(totals))
	for i, t := range totals {
		spread[i] = float64(t)
	}
	distribution := libutil.NewDistributionStats(spread)
	fmt.Println()
	fmt.Printf("%-20s%.3f\n", "Worker fairness:", fairness.DistributionQuality)
	fmt.Printf("%-20s%.3f (min %.0f, max %.0f)\n", "Lock spread:", distribution.DistributionQuality, distribution.Min, distribution.Max)

	printCoordinatorStats(coord)

	if stressMetrics {
		fmt.Println()
		coord.WritePrometheus(os.Stdout)
	}

	if sum != expected {
		return fmt.Errorf("lost updates: got %d increments, expected %d", sum, expected)
	}
	return nil
}

func printCoordinatorStats(coord *coordinator.Coordinator) {
	s := coord.Stats()
	fmt.Println()
	fmt.Println("Coordinator:")
	fmt.Printf("  %-14s%d\n", "acquisitions", s.Acquisitions)
	fmt.Printf("  %-14s%d\n", "contended", s.Contended)
	fmt.Printf("  %-14s%d\n", "analyses", s.Analyses)
	fmt.Printf("  %-14s%d\n", "reports", s.Reports)
	fmt.Printf("  %-14s%d\n", "poisonings", s.Poisonings)

	all := coord.AllLockStats()
	if len(all) == 0 {
		return
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	fmt.Println()
	fmt.Printf("  %-6s %-20s %12s %12s %12s\n", "ID", "Name", "Acquired", "Contended", "Max wait")
	for _, ls := range all {
		fmt.Printf("  %-6s %-20s %12d %12d %12s\n", ls.ID, ls.Name, ls.Acquisitions, ls.Contended, ls.MaxWait)
	}
}

// ----------------------------------------------------------------------------
// Mutex pool
// ----------------------------------------------------------------------------

type mutexPool struct {
	mutexes []*mutex.Mutex[int64]
}

func newMutexPool(coord *coordinator.Coordinator, n int) *mutexPool {
	p := &mutexPool{mutexes: make([]*mutex.Mutex[int64], n)}
	for i := range p.mutexes {
		p.mutexes[i] = mutex.NewWith[int64](coord, fmt.Sprintf("counter-%d", i), 0)
	}
	return p
}

func (p *mutexPool) increment(i int) error {
	g, err := p.mutexes[i].Lock()
	defer g.Unlock()
	if err != nil {
		return err
	}
	*g.Value()++
	if stressHold > 0 {
		time.Sleep(stressHold)
	}
	return nil
}

func (p *mutexPool) totals() ([]int64, error) {
	out := make([]int64, len(p.mutexes))
	for i, m := range p.mutexes {
		v, err := m.GetMut()
		if err != nil {
			return nil, err
		}
		out[i] = *v
	}
	return out, nil
}

func (p *mutexPool) close() error {
	for _, m := range p.mutexes {
		if _, err := m.IntoInner(); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Key pool (lock manager)
// ----------------------------------------------------------------------------

type keyPool struct {
	lm       lockmgr.ILockManager
	counters []int64 // counters[i] is only touched while holding key i
}

func newKeyPool(coord *coordinator.Coordinator, n int) *keyPool {
	return &keyPool{
		lm:       lockmgr.NewLockManager(coord),
		counters: make([]int64, n),
	}
}

func (p *keyPool) increment(i int) error {
	key := fmt.Sprintf("counter-%d", i)
	for {
		ok, owner, err := p.lm.AcquireLock(key, 0)
		if err != nil {
			return err
		}
		if !ok {
			runtime.Gosched()
			continue
		}
		p.counters[i]++
		if stressHold > 0 {
			time.Sleep(stressHold)
		}
		released, err := p.lm.ReleaseLock(key, owner)
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("lock %q was taken over while held", key)
		}
		return nil
	}
}

func (p *keyPool) totals() ([]int64, error) {
	return p.counters, nil
}

func (p *keyPool) close() error {
	return p.lm.Close()
}
