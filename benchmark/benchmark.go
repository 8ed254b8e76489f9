package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"kvs/core"

	"github.com/dustin/go-humanize"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

var (
	dataPath      = flag.String("data_path", "", "directory holding one store per worker, defaults to a temporary directory")
	numStores     = flag.Int("stores", 4, "number of independent stores driven in parallel")
	numRequests   = flag.Int("num_requests", 10000, "number of set/get pairs per store")
	numKeys       = flag.Int("num_keys", 1000, "number of distinct keys per store")
	valueSize     = flag.Int("value_size", 256, "size of values in bytes")
	threshold     = flag.String("compaction_threshold", "16 MiB", "log size that triggers compaction")
	metricsFile   = flag.String("metrics_file", "", "write prometheus metrics to this file when done")
	pyroscopeAddr = flag.String("pyroscope_addr", "", "pyroscope server to send profiles to")
)

func randomString(n int) string {
	letters := []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	s := make([]rune, n)
	for i := range s {
		s[i] = letters[rand.Intn(len(letters))]
	}
	return string(s)
}

// runStore drives one store with set/get pairs and a remove for every tenth key
func runStore(config *core.EngineConfig, bar *progressbar.ProgressBar, bytesWritten *int64) error {
	engine, err := core.NewEngine(config)
	if err != nil {
		return err
	}
	defer engine.Close()

	for i := 0; i < *numRequests; i++ {
		key := fmt.Sprintf("key-%d", rand.Intn(*numKeys))
		value := randomString(*valueSize)

		if err := engine.Set(key, value); err != nil {
			return err
		}

		got, ok, err := engine.Get(key)
		if err != nil {
			return err
		}
		if !ok || got != value {
			return fmt.Errorf("expected value for key '%s' is '%s', but received '%s'", key, value, got)
		}

		if i%10 == 0 {
			if err := engine.Remove(key); err != nil {
				return err
			}
		}

		atomic.AddInt64(bytesWritten, int64(len(key)+len(value)))
		bar.Add(1)
	}

	return nil
}

func main() {
	flag.Parse()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "kvs.benchmark",
			ServerAddress:   *pyroscopeAddr,
			Logger:          pyroscope.StandardLogger,
		})
		if err != nil {
			log.Fatalf("Failed to start profiler: %v", err)
		}
		defer profiler.Stop()
	}

	compactionThreshold, err := humanize.ParseBytes(*threshold)
	if err != nil {
		log.Fatalf("Invalid compaction threshold: %v", err)
	}

	root := *dataPath
	if root == "" {
		root, err = os.MkdirTemp("", "kvs-benchmark")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(root)
	}

	start := time.Now()
	bar := progressbar.Default(int64(*numStores * *numRequests))
	var bytesWritten int64

	var wg errgroup.Group
	wg.SetLimit(*numStores)

	for i := 0; i < *numStores; i++ {
		config := core.DefaultEngineConfig(filepath.Join(root, fmt.Sprintf("store-%d", i)))
		config.CompactionThreshold = int64(compactionThreshold)

		wg.Go(func() error {
			return runStore(config, bar, &bytesWritten)
		})
	}

	if err := wg.Wait(); err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("Benchmark completed in %s\n", elapsed)

	totalRequests := *numStores * *numRequests * 2 // Set and Get requests
	requestsPerSecond := float64(totalRequests) / elapsed.Seconds()
	fmt.Printf("Total Requests: %d\n", totalRequests)
	fmt.Printf("Requests per Second: %.2f\n", requestsPerSecond)
	fmt.Printf("Data Written: %s\n", humanize.Bytes(uint64(atomic.LoadInt64(&bytesWritten))))

	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, prometheus.DefaultGatherer); err != nil {
			log.Fatalf("Failed to write metrics: %v", err)
		}
	}
}
