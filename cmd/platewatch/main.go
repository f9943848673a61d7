// Command platewatch runs the tracking engine over a replay script: frames
// are read from a JSONL file of scripted detections, driven through the
// association and lifecycle pipeline, and persisted to sqlite. An HTTP
// control surface exposes live tracks, tuning and a stop control while the
// run is in progress.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/platewatch-data/platewatch/internal/api"
	"github.com/platewatch-data/platewatch/internal/config"
	"github.com/platewatch-data/platewatch/internal/db"
	"github.com/platewatch-data/platewatch/internal/monitoring"
	"github.com/platewatch-data/platewatch/internal/storage/sqlite"
	"github.com/platewatch-data/platewatch/internal/version"
	"github.com/platewatch-data/platewatch/internal/vision"
	"github.com/platewatch-data/platewatch/internal/vision/replay"
)

var (
	devMode    = flag.Bool("dev", false, "enable the diag log stream")
	traceMode  = flag.Bool("trace", false, "enable the per-frame trace log stream (implies -dev)")
	listen     = flag.String("listen", "", "HTTP listen address (overrides PLATEWATCH_LISTEN)")
	dbFile     = flag.String("db", "", "sqlite database path (overrides PLATEWATCH_DB)")
	tuningFile = flag.String("tuning", "", "tuning JSON path (overrides PLATEWATCH_TUNING)")
	replayFile = flag.String("replay", "", "JSONL replay script to process (required)")
	noPersist  = flag.Bool("no-persist", false, "skip sqlite persistence")
)

func main() {
	flag.Parse()
	log.Printf("platewatch %s (%s)", version.Version, version.GitSHA)

	env := config.LoadEnv()
	if *listen == "" {
		*listen = env.ListenAddr
	}
	if *dbFile == "" {
		*dbFile = env.DBPath
	}
	if *tuningFile == "" {
		*tuningFile = env.TuningPath
	}
	if *replayFile == "" {
		log.Fatal("a replay script is required (-replay)")
	}

	// Ops always logs; diag and trace are opt-in.
	var diagWriter, traceWriter io.Writer
	if *devMode || *traceMode {
		diagWriter = os.Stderr
	}
	if *traceMode {
		traceWriter = os.Stderr
	}
	monitoring.SetLogWriters(os.Stderr, diagWriter, traceWriter)

	tuning := config.EmptyTuningConfig()
	if *tuningFile != "" {
		loaded, err := config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning = loaded
	}

	script, err := replay.Load(*replayFile)
	if err != nil {
		log.Fatalf("Failed to load replay script: %v", err)
	}
	log.Printf("Loaded replay script %s (%d frames)", *replayFile, script.Frames())

	// Persistence.
	var sink vision.PersistenceSink
	if !*noPersist {
		database, err := db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
		if err := database.MigrateUp(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		tuningJSON, err := json.Marshal(tuning.Effective())
		if err != nil {
			log.Fatalf("Failed to encode tuning: %v", err)
		}
		store, err := sqlite.BeginRun(database, "replay://"+*replayFile, string(tuningJSON))
		if err != nil {
			log.Fatalf("Failed to begin run: %v", err)
		}
		log.Printf("Persisting run %s to %s", store.RunID(), *dbFile)
		sink = store
	}

	tracker := vision.NewTracker(vision.TrackerConfigFromTuning(tuning))
	metrics := vision.NewMetrics()
	stop := vision.NewStopCell()

	pipeline, err := vision.NewPipeline(vision.PipelineConfig{
		Detector:             vision.NewDetectionAdapter(script.Detector(), tuning.GetDetectionThreshold()),
		Embedder:             script.Embedder(),
		Recognizer:           script.Recognizer(),
		Tracker:              tracker,
		Sink:                 sink,
		Metrics:              metrics,
		Stop:                 stop,
		RecognitionThreshold: tuning.GetRecognitionThreshold(),
		MaxDetectionFailures: tuning.GetMaxDetectionFailures(),
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	// Pipeline goroutine: the run ends at script EOF, on SIGINT/SIGTERM, or
	// via POST /api/stop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		if err := pipeline.Run(ctx, script.Source()); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Pipeline error: %v", err)
		}
		log.Printf("Pipeline finished in %s", time.Since(start).Round(time.Millisecond))
		cancel()
	}()

	// HTTP control surface.
	server := &http.Server{
		Addr: *listen,
		Handler: api.NewServer(api.Config{
			Tracker:    tracker,
			Stop:       stop,
			Metrics:    metrics,
			Tuning:     tuning,
			TuningPath: *tuningFile,
		}),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf("Control API listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	wg.Wait()
}
