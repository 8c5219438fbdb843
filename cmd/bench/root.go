package bench

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/lockwatch/cmd/util"
	"github.com/ValentinKolb/lockwatch/lib/coordinator"
	"github.com/ValentinKolb/lockwatch/lib/mutex"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Compare the instrumented mutex with sync.Mutex",
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchThreads = 10
)

func init() {
	key := "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Parallelism multiplier for the parallel benchmarks"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(_ *cobra.Command, _ []string) error {
	benchThreads = viper.GetInt("threads")
	if benchThreads <= 0 {
		benchThreads = 1
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	opts := util.GetCoordinatorOptions()
	coord := coordinator.New(opts)
	defer coord.Close()

	fmt.Println("Benchmark: lockwatch mutex vs sync.Mutex")
	fmt.Println(opts.String())
	fmt.Printf("Threads: %d\n\n", benchThreads)

	results := make(map[string]testing.BenchmarkResult)

	results["sync-lock"] = testing.Benchmark(func(b *testing.B) {
		var mu sync.Mutex
		counter := 0
		for i := 0; i < b.N; i++ {
			mu.Lock()
			counter++
			mu.Unlock()
		}
		_ = counter
	})
	printResult("sync-lock", results["sync-lock"])

	results["lockwatch-lock"] = testing.Benchmark(func(b *testing.B) {
		m := mutex.NewWith(coord, "bench-lock", 0)
		defer m.IntoInner()
		for i := 0; i < b.N; i++ {
			g, _ := m.Lock()
			*g.Value()++
			g.Unlock()
		}
	})
	printResult("lockwatch-lock", results["lockwatch-lock"])

	results["lockwatch-trylock"] = testing.Benchmark(func(b *testing.B) {
		m := mutex.NewWith(coord, "bench-trylock", 0)
		defer m.IntoInner()
		for i := 0; i < b.N; i++ {
			g, err := m.TryLock()
			if err != nil {
				continue
			}
			*g.Value()++
			g.Unlock()
		}
	})
	printResult("lockwatch-trylock", results["lockwatch-trylock"])

	results["sync-parallel"] = testing.Benchmark(func(b *testing.B) {
		var mu sync.Mutex
		counter := 0
		b.SetParallelism(benchThreads)
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				mu.Lock()
				counter++
				mu.Unlock()
			}
		})
		_ = counter
	})
	printResult("sync-parallel", results["sync-parallel"])

	results["lockwatch-parallel"] = testing.Benchmark(func(b *testing.B) {
		m := mutex.NewWith(coord, "bench-parallel", 0)
		defer m.IntoInner()
		b.SetParallelism(benchThreads)
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				g, _ := m.Lock()
				*g.Value()++
				g.Unlock()
			}
		})
	})
	printResult("lockwatch-parallel", results["lockwatch-parallel"])

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, opts); err != nil {
			return err
		}
		fmt.Printf("\nResults written to %s\n", csvPath)
	}
	return nil
}

func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, opts coordinator.Options) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Threads", "WaitThreshold", "ReportInterval"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	for _, test := range tests {
		nsPerOp := math.Max(float64(results[test].NsPerOp()), 1)
		row := []string{
			test,
			strconv.FormatFloat(nsPerOp, 'f', 0, 64),
			time.Duration(nsPerOp).String(),
			strconv.FormatFloat(1e9/nsPerOp, 'f', 2, 64),
			strconv.Itoa(benchThreads),
			opts.WaitThreshold.String(),
			opts.ReportInterval.String(),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %v", err)
		}
	}
	return nil
}
