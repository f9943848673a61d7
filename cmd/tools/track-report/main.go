// Command track-report renders an HTML report for one persisted tracking
// run: track trajectories, lifetime distribution, and reading confidence
// summary statistics.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/platewatch-data/platewatch/internal/db"
	"github.com/platewatch-data/platewatch/internal/storage/sqlite"
)

var (
	dbFile  = flag.String("db", "platewatch.db", "sqlite database path")
	runID   = flag.String("run", "", "run id to report on (default: most recent run)")
	outFile = flag.String("out", "track-report.html", "output HTML path")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	id := *runID
	if id == "" {
		runs, err := sqlite.ListRuns(database)
		if err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			log.Fatal("No runs in database")
		}
		id = runs[0]
	}

	store := sqlite.OpenRun(database, id)
	tracks, err := store.QueryTracks()
	if err != nil {
		log.Fatalf("Failed to query tracks: %v", err)
	}
	if len(tracks) == 0 {
		log.Fatalf("Run %s has no tracks", id)
	}

	page := components.NewPage()
	page.SetPageTitle("Track Report " + id)

	trajectories, err := trajectoryChart(store, tracks, id)
	if err != nil {
		log.Fatalf("Failed to build trajectory chart: %v", err)
	}
	page.AddCharts(trajectories, lifetimeChart(tracks), confidenceChart(tracks))

	f, err := os.Create(*outFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("Failed to render report: %v", err)
	}

	printSummary(tracks, id)
	log.Printf("Report written to %s", *outFile)
}

// trajectoryChart plots every track's matched box centres, coloured by
// track.
func trajectoryChart(store *sqlite.TrackStore, tracks []sqlite.TrackRecord, runID string) (*charts.Scatter, error) {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Track trajectories",
			Subtitle: fmt.Sprintf("run=%s tracks=%d", runID, len(tracks)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (px)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (px)"}),
	)

	for _, track := range tracks {
		points, err := store.QueryObservations(track.TrackID)
		if err != nil {
			return nil, fmt.Errorf("observations for track %d: %w", track.TrackID, err)
		}
		data := make([]opts.ScatterData, 0, len(points))
		for _, p := range points {
			data = append(data, opts.ScatterData{
				Value: []interface{}{p.Box.X + p.Box.W/2, p.Box.Y + p.Box.H/2},
			})
		}
		name := fmt.Sprintf("track %d", track.TrackID)
		if track.HasReading {
			name = fmt.Sprintf("track %d (%s)", track.TrackID, track.BestText)
		}
		scatter.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	}
	return scatter, nil
}

// lifetimeChart shows each track's matched-frame count.
func lifetimeChart(tracks []sqlite.TrackRecord) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Track lifetimes (hits)"}),
	)

	x := make([]string, 0, len(tracks))
	y := make([]opts.BarData, 0, len(tracks))
	for _, track := range tracks {
		x = append(x, fmt.Sprintf("%d", track.TrackID))
		y = append(y, opts.BarData{Value: track.Hits})
	}
	bar.SetXAxis(x)
	bar.AddSeries("hits", y)
	return bar
}

// confidenceChart shows per-track best reading confidence.
func confidenceChart(tracks []sqlite.TrackRecord) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Best reading confidence"}),
	)

	x := make([]string, 0, len(tracks))
	y := make([]opts.BarData, 0, len(tracks))
	for _, track := range tracks {
		if !track.HasReading {
			continue
		}
		x = append(x, fmt.Sprintf("%d: %s", track.TrackID, track.BestText))
		y = append(y, opts.BarData{Value: track.BestConfidence})
	}
	bar.SetXAxis(x)
	bar.AddSeries("confidence", y)
	return bar
}

func printSummary(tracks []sqlite.TrackRecord, runID string) {
	hits := make([]float64, 0, len(tracks))
	confidences := make([]float64, 0, len(tracks))
	confirmed := 0
	for _, track := range tracks {
		hits = append(hits, float64(track.Hits))
		if track.HasReading {
			confidences = append(confidences, track.BestConfidence)
		}
		if track.Hits >= 10 {
			confirmed++
		}
	}
	sort.Float64s(hits)

	fmt.Printf("run %s: %d tracks, %d with readings\n", runID, len(tracks), len(confidences))
	fmt.Printf("hits: mean=%.1f p50=%.0f p95=%.0f\n",
		stat.Mean(hits, nil),
		stat.Quantile(0.50, stat.Empirical, hits, nil),
		stat.Quantile(0.95, stat.Empirical, hits, nil),
	)
	if len(confidences) > 0 {
		sort.Float64s(confidences)
		fmt.Printf("reading confidence: mean=%.3f max=%.3f\n",
			stat.Mean(confidences, nil), confidences[len(confidences)-1])
	}
}
