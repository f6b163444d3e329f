package cmd

import (
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"goshawk/bootstrap"
	"goshawk/config"
	"goshawk/core"
	"goshawk/detect"
	"goshawk/geoip"
	"goshawk/ingest"
	"goshawk/output"
)

// scanViper is the scan command's own viper instance; flags, config
// file keys and GOSHAWK_* env vars all resolve through it.
var scanViper = viper.New()

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan audit log exports against Sigma detection rules",
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringP("file", "f", "", "single log export file to scan")
	f.StringP("directory", "d", "", "directory tree of log exports to scan")
	f.String("s3-uri", "", "s3://bucket/prefix of log exports to scan")
	f.StringP("rules", "r", "rules", "detection rule file or directory")
	f.String("log-source", "aws", "log source (aws or azure)")
	f.StringP("min-level", "m", "informational", "minimum rule level to load")
	f.StringP("output", "o", "", "output path for file sinks")
	f.Bool("csv", false, "write results as CSV")
	f.Bool("json", false, "write results as pretty-printed JSON")
	f.Bool("jsonl", false, "write results as JSON lines")
	f.BoolP("raw-output", "R", false, "emit original log records in JSON output")
	f.Bool("no-color", false, "disable colored output")
	f.Bool("no-summary", false, "suppress the results summary detail")
	f.Bool("no-frequency", false, "suppress the detection frequency timeline")
	f.String("profile", "", "output profile file")
	f.String("timeline-start", "", "only scan events at or after this RFC 3339 time")
	f.String("timeline-end", "", "only scan events at or before this RFC 3339 time")
	f.String("time-offset", "", "only scan events newer than now minus offset, e.g. 90d")
	f.Int("chunk-size", 1000, "records per processing chunk")
	f.Int("workers", 0, "parallel workers (0 means all CPUs)")
	f.StringP("geoip", "G", "", "GeoLite2 database directory for source-IP enrichment")
	f.String("config", "", "config file")
	f.BoolP("verbose", "v", false, "debug logging")
	f.BoolP("quiet", "q", false, "suppress the scan progress display")

	bindings := map[string]string{
		"input.file":          "file",
		"input.directory":     "directory",
		"input.s3_uri":        "s3-uri",
		"rules_dir":           "rules",
		"log_source":          "log-source",
		"min_level":           "min-level",
		"output.path":         "output",
		"output.csv":          "csv",
		"output.json":         "json",
		"output.jsonl":        "jsonl",
		"output.raw":          "raw-output",
		"output.no_color":     "no-color",
		"output.no_summary":   "no-summary",
		"output.no_frequency": "no-frequency",
		"output.profile":      "profile",
		"time.start":          "timeline-start",
		"time.end":            "timeline-end",
		"time.offset":         "time-offset",
		"scan.chunk_size":     "chunk-size",
		"scan.workers":        "workers",
		"geoip_dir":           "geoip",
		"config":              "config",
	}
	for key, flag := range bindings {
		if err := scanViper.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	cfg, err := config.Load(scanViper)
	if err != nil {
		return err
	}
	if cfg.Output.NoColor {
		color.NoColor = true
	}

	logger := bootstrap.InitLogger(verbose, cfg.Output.NoColor)
	defer logger.Sync()

	runID := uuid.NewString()
	logger.Infow("scan starting",
		"run_id", runID,
		"log_source", cfg.LogSource,
		"rules", cfg.RulesDir)

	source, err := core.LogSourceByName(cfg.LogSource)
	if err != nil {
		return err
	}
	rs, err := detect.LoadRuleSet(cfg.RulesDir, source, cfg.MinLevel, logger)
	if err != nil {
		return err
	}
	filter, err := core.NewTimeFilter(cfg.Time.Start, cfg.Time.End, cfg.Time.Offset)
	if err != nil {
		return err
	}

	var enricher *geoip.Enricher
	if cfg.GeoIPDir != "" {
		resolver, err := geoip.OpenMaxMind(cfg.GeoIPDir)
		if err != nil {
			return err
		}
		defer resolver.Close()
		if enricher, err = geoip.NewEnricher(resolver); err != nil {
			return err
		}
	}

	profile, err := output.LoadProfile(cfg.Output.Profile, source, enricher != nil)
	if err != nil {
		return err
	}
	writers, err := output.NewWriters(output.SinkConfig{
		Path:    cfg.Output.Path,
		CSV:     cfg.Output.CSV,
		JSON:    cfg.Output.JSON,
		JSONL:   cfg.Output.JSONL,
		Raw:     cfg.Output.Raw,
		NoColor: cfg.Output.NoColor,
	}, profile)
	if err != nil {
		return err
	}

	workers := cfg.Scan.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := core.NewWorkerPool(workers, workers*2, "scan", logger)
	pool.Start()
	defer pool.Stop()

	// The spinner shares the terminal with console records, so it only
	// runs when results go to files.
	var progress ingest.Progress = ingest.NopProgress{}
	if !quiet && (cfg.Output.CSV || cfg.Output.JSON || cfg.Output.JSONL) {
		progress = ingest.NewSpinnerProgress()
	}

	var src ingest.Source
	switch {
	case cfg.Input.S3URI != "":
		bucket, prefix, err := ingest.ParseS3URI(cfg.Input.S3URI)
		if err != nil {
			return err
		}
		src = &ingest.S3Source{
			Bucket:    bucket,
			Prefix:    prefix,
			ChunkSize: cfg.Scan.ChunkSize,
			Progress:  progress,
			Logger:    logger,
		}
	case cfg.Input.File != "":
		src = &ingest.FileSource{Root: cfg.Input.File, ChunkSize: cfg.Scan.ChunkSize, Progress: progress, Logger: logger}
	default:
		src = &ingest.FileSource{Root: cfg.Input.Directory, ChunkSize: cfg.Scan.ChunkSize, Progress: progress, Logger: logger}
	}

	summary := core.NewDetectionSummary()
	engine := &detect.Engine{
		RuleSet:   rs,
		Source:    source,
		Filter:    filter,
		Pool:      pool,
		Projector: &output.Projector{Profile: profile, Source: source, Enricher: enricher},
		Writers:   writers,
		Summary:   summary,
		Evaluator: detect.NewCorrelationEngine(rs, logger),
		Logger:    logger,
	}

	scanErr := engine.Scan(src)
	if err := writers.FlushAll(); err != nil && scanErr == nil {
		scanErr = err
	}
	if scanErr != nil {
		return scanErr
	}

	report := &output.Report{
		Out:         os.Stdout,
		NoColor:     cfg.Output.NoColor,
		NoSummary:   cfg.Output.NoSummary,
		NoFrequency: cfg.Output.NoFrequency,
	}
	report.Print(summary, len(rs.Rules)+len(rs.CorrelationRules), writers.Paths())

	logger.Infow("scan finished",
		"run_id", runID,
		"events", summary.TotalEvents,
		"events_with_hits", summary.EventWithHits)
	return nil
}
