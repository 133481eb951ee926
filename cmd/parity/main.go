package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/harness"
	"github.com/23skdu/longbow-parity/internal/paramtable"
	"github.com/23skdu/longbow-parity/internal/report"
	"github.com/23skdu/longbow-parity/internal/tensor"
	"github.com/23skdu/longbow-parity/internal/tracker"
)

var (
	tablePath   = flag.String("table", "", "HCL parameter table file or directory (default: embedded table)")
	trackerPath = flag.String("tracker", "", "YAML parity tracker (default: embedded tracker)")
	devicesFlag = flag.String("devices", "cpu", "Comma-separated devices to test (e.g. cpu,cuda)")
	runPattern  = flag.String("run", "", "Only run cases whose name matches this regexp")
	printSource = flag.Bool("print-source", false, "Print the generated native test program and exit")
	reportPath  = flag.String("report", "", "Write the run report as an Arrow IPC stream to this file")
	serverAddr  = flag.String("server", "", "Longbow server address to push the report to (e.g. localhost:3000)")
	datasetName = flag.String("dataset", "parity_reports", "Target dataset name on server")
	listenAddr  = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr  = flag.String("flight", "", "Address to listen on for Flight report sink (e.g. :9090)")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
	repeat      = flag.Int("repeat", 0, "Re-run every case N extra times and require identical reference results")
	atol        = flag.Float64("atol", tensor.DefaultTolerance.Abs, "Absolute comparison tolerance")
	rtol        = flag.Float64("rtol", tensor.DefaultTolerance.Rel, "Relative comparison tolerance")
	verbose     = flag.Bool("v", false, "Log every case")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	store := newReportStore()
	serving := *listenAddr != "" || *flightAddr != ""
	if *listenAddr != "" {
		go startServer(*listenAddr, store)
	}
	if *flightAddr != "" {
		go StartFlightServer(*flightAddr, store)
	}

	ctx := context.Background()
	suite, err := setup()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register parity cases")
	}

	if *printSource {
		fmt.Print(suite.Source())
		_ = suite.Close()
		return
	}

	start := time.Now()
	if err := suite.Build(ctx); err != nil {
		_ = suite.Close()
		log.Fatal().Err(err).Msg("Failed to compile native test program")
	}
	log.Info().Int("variants", len(suite.Variants())).Dur("elapsed", time.Since(start)).Msg("Compiled native test program")

	match, err := matcher(*runPattern)
	if err != nil {
		_ = suite.Close()
		log.Fatal().Err(err).Msg("Invalid -run pattern")
	}

	var rows []report.Row
	for run := 0; run <= *repeat; run++ {
		rows = append(rows, report.FromResults(run, suite.Run(ctx, match))...)
	}
	if err := suite.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to remove temp directories")
	}
	store.Add(rows)

	summary := report.Summarize(rows)
	log.Info().
		Int("cases", summary.Total).
		Interface("outcomes", summary.Outcomes).
		Dur("elapsed", time.Since(start)).
		Msg("Parity run complete")

	if err := deliver(ctx, rows); err != nil {
		log.Error().Err(err).Msg("Failed to deliver report")
	}

	if serving {
		// Keep serving /report and the Flight sink.
		select {}
	}
	if len(summary.Failing) > 0 {
		log.Error().Strs("cases", summary.Failing).Msg("Parity cases failed")
		os.Exit(1)
	}
}

// setup loads the tables and registers every variant in a new suite.
func setup() (*harness.Suite, error) {
	params, err := loadTable(*tablePath)
	if err != nil {
		return nil, err
	}
	tr, err := loadTracker(*trackerPath)
	if err != nil {
		return nil, err
	}

	var runs cache.RunCache
	if *repeat > 0 {
		runs = cache.NewMapCache()
	}
	suite, err := harness.NewSuite(harness.Options{Tolerance: tensor.Tolerance{Abs: *atol, Rel: *rtol}}, runs)
	if err != nil {
		return nil, err
	}
	r := &harness.Registrar{Tracker: tr, Devices: splitDevices(*devicesFlag)}
	if err := r.Register(suite, params); err != nil {
		_ = suite.Close()
		return nil, err
	}
	return suite, nil
}

func loadTable(path string) ([]paramtable.Params, error) {
	if path == "" {
		return paramtable.LoadDefault()
	}
	return paramtable.Load(path)
}

func loadTracker(path string) (*tracker.Table, error) {
	if path == "" {
		return tracker.Default()
	}
	return tracker.Load(path)
}

func splitDevices(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func matcher(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

// deliver writes the report file and pushes the report to the server,
// whichever are configured.
func deliver(ctx context.Context, rows []report.Row) error {
	rec := report.Build(memory.NewGoAllocator(), rows)
	if rec == nil {
		return nil
	}
	defer rec.Release()

	if *reportPath != "" {
		f, err := os.Create(*reportPath)
		if err != nil {
			return err
		}
		if err := report.WriteIPC(f, rec); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Info().Str("path", *reportPath).Int("rows", len(rows)).Msg("Wrote report")
	}

	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", *serverAddr, err)
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("server", *serverAddr).Str("dataset", *datasetName).Msg("Sending report to Longbow")

		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		pub := client.NewPublisher(fc, *datasetName, client.NewCircuitBreaker(3, 30*time.Second))
		if err := pub.Publish(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("parity"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
