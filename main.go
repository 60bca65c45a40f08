package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/fiblab-sim/v2v-interference/internal/driver"
	"github.com/fiblab-sim/v2v-interference/internal/metrics"
	"github.com/sirupsen/logrus"
)

var (
	fixturePathStr = flag.String("fixture", "", "road graph fixture JSON path (empty starts with an empty graph)")
	logLevel       = flag.String("log-level", "info", "log level [debug, info, warn, error, fatal, panic]")

	vehicleCount       = flag.Int("vehicle-count", 200, "initial vehicle population")
	speedMps           = flag.Float64("speed", driver.DefaultSpeedMps, "vehicle cruising speed in m/s")
	transmissionRangeM = flag.Float64("range", driver.DefaultTransmissionRangeM, "transmission range in meters")
	macroCount         = flag.Int("macro", driver.DefaultMacroCount, "number of macro cells")
	microPerMacro      = flag.Int("micro", driver.DefaultMicroPerMacro, "number of micro cells per macro")
	tickIntervalMs     = flag.Int("tick-interval-ms", int(driver.DefaultTickInterval/time.Millisecond), "tick interval in milliseconds")
	transitiveClosure  = flag.Bool("transitive-closure", false, "compute transitive closure every build")

	metricsAddr = flag.String("metrics", "localhost:52103", "Prometheus /metrics listening address, empty to disable")
	pprofAddr   = flag.String("pprof", "localhost:52102", "pprof listening address, empty to disable")

	benchmark = flag.Bool("benchmark", false, "benchmark mode")

	logLevels = map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}
)

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	flag.Parse()
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", *logLevel)
	}

	fixturePath, err := NewPath(*fixturePathStr)
	if err != nil {
		logrus.Fatalf("invalid fixture path: %s", err)
	}
	roadGraph, err := loadRoadGraph(fixturePath)
	if err != nil {
		logrus.Fatalf("failed to load road graph: %s", err)
	}
	log.Infof("road graph loaded: %d vertices", roadGraph.VertexCount())

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		logrus.Fatalf("failed to register metrics: %s", err)
	}

	sim := driver.New(driver.Config{
		RoadGraph:    roadGraph,
		Seed:         time.Now().UnixNano(),
		TickInterval: time.Duration(*tickIntervalMs) * time.Millisecond,
		Metrics:      collector,
	})
	sim.SetSpeed(*speedMps)
	sim.SetTransmissionRange(*transmissionRangeM)
	sim.EnableTransitiveClosure(*transitiveClosure)
	sim.SetVehicleCount(*vehicleCount)
	sim.ReconfigureCells(*macroCount, *microPerMacro)

	if *pprofAddr != "" {
		startHTTPDebugger(*pprofAddr)
	}
	if *metricsAddr != "" {
		startMetricsServer(*metricsAddr, collector)
	}

	if *benchmark {
		runBenchmark(sim)
		return
	}

	sim.Start()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("stopping...")
		go func() {
			<-signalCh
			os.Exit(1)
		}()
		sim.Stop()
		os.Exit(0)
	}()

	log.Infof("simulation running, tick interval %dms", *tickIntervalMs)
	for {
		time.Sleep(time.Second)
	}
}

func startMetricsServer(addr string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %s", err)
		}
	}()
}
