package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"sparsescan/pkg/config"
	"sparsescan/pkg/imageio"
	"sparsescan/pkg/logger"
	"sparsescan/pkg/metrics"
	"sparsescan/pkg/models"
	"sparsescan/pkg/planstore"
	"sparsescan/pkg/saliency"
	"sparsescan/pkg/sampling"
	"sparsescan/pkg/scanpath"
)

func main() {
	// Parse command line arguments
	input := flag.String("input", "", "SEM reference image (png, jpeg, gif, tiff, bmp)")
	simsDir := flag.String("sims-dir", "", "Directory holding one image per SIMS mass channel")
	configPath := flag.String("config", "", "YAML configuration file (default $SPARSESCAN_CONFIG)")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	sparsity := flag.Float64("sparsity", 0, "Percentage of pixels to re-scan, 0..100")
	dwellList := flag.String("dwell", "", "Comma separated dwell times in microseconds, e.g. 10,50,100")
	policy := flag.String("policy", "", "Scan order: ascending, descending or grouped-raster")
	operator := flag.String("operator", "", "Saliency operator: gradient or sobel")
	workers := flag.Int("workers", 0, "Concurrent SIMS channels (default: all CPUs)")
	referenceDwell := flag.Float64("reference-dwell", 0, "Dwell time the reference image was acquired with")
	dbPath := flag.String("db", "", "SQLite file to store the run in")
	metricsFile := flag.String("metrics-file", "", "Write Prometheus metrics in textfile format to this path")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	head := flag.Int("head", -1, "Number of plan points to print per path")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	// Validate inputs
	if (*input == "") == (*simsDir == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -input or -sims-dir is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Init()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Explicit flags win over the file and the environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sparsity":
			cfg.Sampling.SparsityPercent = *sparsity
		case "dwell":
			dts, perr := parseDwellTimes(*dwellList)
			if perr != nil {
				log.Fatalf("Invalid -dwell: %v", perr)
			}
			cfg.Sampling.DwellTimes = dts
		case "policy":
			cfg.Scan.Policy = *policy
		case "operator":
			cfg.Sampling.Operator = *operator
		case "workers":
			cfg.Sampling.NumWorkers = *workers
		case "db":
			cfg.Store.Enabled = true
			cfg.Store.Path = *dbPath
		case "metrics-file":
			cfg.Metrics.Enabled = true
			cfg.Metrics.TextfilePath = *metricsFile
		case "log-level":
			cfg.Output.LogLevel = *logLevel
		case "head":
			cfg.Scan.PreviewPoints = *head
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logger.SetLevelString(cfg.Output.LogLevel); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	appLog := logger.Named("sparsescan")

	op, err := saliency.ParseOperator(cfg.Sampling.Operator)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	scanPolicy, err := scanpath.ParsePolicy(cfg.Scan.Policy)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	metricsManager := metrics.NewManager(
		metrics.WithMetricsEnabled(cfg.Metrics.Enabled),
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithSubsystem(cfg.Metrics.Subsystem),
		metrics.WithHistogramBuckets(cfg.Metrics.DurationBuckets),
	)

	sampler, err := sampling.NewSampler(sampling.Params{
		SparsityPercent: cfg.Sampling.SparsityPercent,
		DwellTimes:      cfg.Sampling.DwellTimes,
		Operator:        op,
		NumWorkers:      cfg.Sampling.NumWorkers,
	}, sampling.WithLogger(logger.Named("sampling")), sampling.WithMetrics(metricsManager))
	if err != nil {
		fatal(ctx, appLog, "failed to create sampler", err)
	}

	var img models.Image
	if *input != "" {
		img, err = imageio.LoadSEM(*input, *referenceDwell)
	} else {
		img, err = imageio.LoadSIMSDir(*simsDir, *referenceDwell)
	}
	if err != nil {
		fatal(ctx, appLog, "failed to load reference image", err)
	}
	height, width := img.Dims()

	fmt.Println("================================")
	fmt.Println("SPARSE SCAN PLANNING")
	fmt.Println("================================")
	fmt.Printf("Image: %s (%s, %d channel(s), %dx%d)\n", img.Name, img.Modality, len(img.Channels), height, width)
	fmt.Printf("Sparsity: %.2f%%  Dwell times: %v  Operator: %s\n",
		cfg.Sampling.SparsityPercent, cfg.Sampling.DwellTimes, op)

	startTime := time.Now()
	plan, fs, err := runPipeline(ctx, sampler, img, scanPolicy)
	if err != nil {
		writeMetrics(ctx, appLog, cfg, metricsManager)
		fatal(ctx, appLog, "sampling failed", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nSampling completed in %.3f seconds\n", processingTime.Seconds())
	if fs.Len() == 0 {
		fmt.Println("No pixels selected")
	} else {
		printSummary(fs, cfg.Output.HistogramBins)
	}

	if plan.Len() > 0 {
		printPlan(plan.Head(cfg.Scan.PreviewPoints), plan.Len())
	}

	if cfg.Store.Enabled {
		if err := saveRun(ctx, cfg.Store.Path, planstore.Run{
			ImageName: img.Name,
			Modality:  img.Modality,
			Features:  fs,
			Plan:      plan,
		}); err != nil {
			fatal(ctx, appLog, "failed to store run", err)
		}
	}

	writeMetrics(ctx, appLog, cfg, metricsManager)
}

// runPipeline extracts features from img and orders them by policy. SEM
// images go through GenerateScanPattern; SIMS feature sets are ordered
// directly so every stored run carries the plan it was made with.
func runPipeline(ctx context.Context, sampler *sampling.Sampler, img models.Image, policy scanpath.Policy) (scanpath.Plan, *models.FeatureSet, error) {
	switch img.Modality {
	case models.SEM:
		return sampler.GenerateScanPattern(ctx, img, policy)
	case models.SIMS:
		fs, err := sampler.Extract(ctx, img)
		if err != nil {
			return scanpath.Plan{}, nil, err
		}
		plan, err := scanpath.Generate(fs, policy)
		if err != nil {
			return scanpath.Plan{}, nil, err
		}
		return plan, fs, nil
	default:
		return scanpath.Plan{}, nil, errors.Wrapf(models.ErrValidation, "unknown modality %d", int(img.Modality))
	}
}

func parseDwellTimes(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func printSummary(fs *models.FeatureSet, bins int) {
	summary, err := sampling.Summarize(fs)
	if err != nil {
		return
	}

	fmt.Printf("\nSelected pixels: %d\n", summary.Records)
	fmt.Printf("Interest: min %.4f  max %.4f  mean %.4f  std %.4f\n",
		summary.MinInterest, summary.MaxInterest, summary.MeanInterest, summary.StdInterest)
	fmt.Printf("Total dwell: %.1f us\n", summary.TotalDwell)

	fmt.Println("\nRecords per dwell time:")
	for i, dt := range summary.DwellTimes {
		fmt.Printf("- %8.2f us: %d\n", dt, summary.DwellCounts[i])
	}

	counts, edges, err := sampling.DwellHistogram(fs, bins)
	if err != nil {
		return
	}
	fmt.Println("\nDwell time histogram:")
	for i, c := range counts {
		fmt.Printf("- [%8.2f, %8.2f): %.0f\n", edges[i], edges[i+1], c)
	}
}

func printPlan(plan scanpath.Plan, total int) {
	fmt.Printf("\nScan plan (%s, %d points):\n", plan.Policy, total)
	if plan.Policy == scanpath.GroupedRaster {
		for _, g := range plan.Groups {
			fmt.Printf("Dwell %.2f us:\n", g.DwellTime)
			printCoords(g.Path)
		}
		return
	}
	printCoords(plan.Path)
}

func printCoords(coords []models.Coord) {
	for _, c := range coords {
		fmt.Printf("  (%d, %d)\n", c.Row, c.Col)
	}
}

func saveRun(ctx context.Context, path string, run planstore.Run) error {
	store, err := planstore.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.SaveRun(ctx, run)
	if err != nil {
		return err
	}
	fmt.Printf("\nRun %s saved to %s\n", id, path)
	return nil
}

func writeMetrics(ctx context.Context, l logger.Logger, cfg *config.Config, m *metrics.Manager) {
	if !cfg.Metrics.Enabled {
		return
	}
	if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		l.Warn(ctx, "failed to write metrics", logger.String("path", cfg.Metrics.TextfilePath), logger.Error(err))
	}
}

func fatal(ctx context.Context, l logger.Logger, msg string, err error) {
	l.Error(ctx, msg, logger.Error(err))
	os.Exit(1)
}
