package main

import (
	"flag"
	"runtime"
	"time"

	"github.com/fiblab-sim/v2v-interference/internal/driver"
	"github.com/sirupsen/logrus"
)

var (
	benchmarkTicks = flag.Int("benchmark.ticks", 1000, "the number of ticks to run for benchmark")
	benchmarkCPU   = flag.Int("benchmark.cpu", runtime.NumCPU(), "the cpu count for benchmark")
)

// runBenchmark drives the tick loop synchronously for benchmark.ticks ticks,
// each advancing by the configured tick interval, and reports throughput.
func runBenchmark(sim *driver.Driver) {
	log.Logger.SetLevel(logrus.WarnLevel)
	runtime.GOMAXPROCS(*benchmarkCPU)

	interval := time.Duration(*tickIntervalMs) * time.Millisecond

	start := time.Now()
	for i := 0; i < *benchmarkTicks; i++ {
		sim.Tick(interval)
	}
	sim.AwaitIdle()
	elapsed := time.Since(start)

	log.Errorf(
		"benchmark finished\nticks: %d\ntime: %s\navg per tick: %s\n",
		*benchmarkTicks, elapsed, elapsed/time.Duration(*benchmarkTicks),
	)
}
