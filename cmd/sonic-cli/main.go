package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/cli"
	"github.com/fpang/sonic-diagnostic/internal/config"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/logging"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
	"github.com/fpang/sonic-diagnostic/internal/report"
	"github.com/fpang/sonic-diagnostic/internal/workflow"
)

// Overridden with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags
var (
	fileFlag      string
	pickFlag      bool
	recordFlag    bool
	durationFlag  time.Duration
	deviceFlag    string
	categoryFlag  string
	makeModelFlag string
	symptomsFlag  string
	modelFlag     string
	jsonFlag      bool
	langFlag      string
	configFlag    string
	validateFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "sonic-cli",
	Short: "Diagnose machine faults from a sound, video or photo",
	Long: `Sonic CLI sends one recording, video or photo of a machine to Gemini and
prints a diagnosis report: severity, likely fault, estimated repair cost and
an action plan.

Pick exactly one source: --file, --pick (native file dialog) or --record
(microphone via ffmpeg). The machine category is asked for when not given.

Examples:
  sonic-cli --file engine.wav --category automotive --make-model "Skoda Octavia 2016"
  sonic-cli --record --duration 10s --category home_appliance --symptoms "loud spin cycle"
  sonic-cli --pick --json
  sonic-cli lang pl`,
	Run: runMain,
}

var langCmd = &cobra.Command{
	Use:   "lang [en|pl]",
	Short: "Show or set the report language",
	Args:  cobra.MaximumNArgs(1),
	Run:   runLang,
}

func init() {
	rootCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Media file to diagnose")
	rootCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the media file with the native file dialog")
	rootCmd.Flags().BoolVarP(&recordFlag, "record", "r", false, "Record from the microphone (requires ffmpeg)")
	rootCmd.Flags().DurationVar(&durationFlag, "duration", 0, "Maximum recording length, 1s-15s (default from config, 12s)")
	rootCmd.Flags().StringVar(&deviceFlag, "device", "", "Input device for --record (platform default if empty)")
	rootCmd.Flags().StringVarP(&categoryFlag, "category", "c", "", "Machine category: automotive, home_appliance or industrial")
	rootCmd.Flags().StringVar(&makeModelFlag, "make-model", "", "Make and model of the machine")
	rootCmd.Flags().StringVarP(&symptomsFlag, "symptoms", "s", "", "Observed symptoms")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default from config, "+diagnosis.DefaultModelName+")")
	rootCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the report as JSON")
	rootCmd.Flags().StringVarP(&langFlag, "lang", "l", "", "Report language for this run: en or pl")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.sonic-diagnostic/config.yaml)")
	rootCmd.Flags().BoolVar(&validateFlag, "validate", false, "Validate the API key before diagnosing")
	rootCmd.MarkFlagsMutuallyExclusive("file", "pick", "record")

	rootCmd.AddCommand(langCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	initStart := time.Now()

	if fileFlag == "" && !pickFlag && !recordFlag {
		log.Fatal().Msg("One of --file, --pick or --record is required")
	}

	cfg := loadConfig()
	store := openPreferences()

	language := prefs.LanguageOr(store, cfg.Language)
	if langFlag != "" {
		l, err := lang.Parse(langFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --lang")
		}
		language = l
	}
	cfg.Language = language

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompter := cli.NewPrompter(os.Stdin, os.Stderr)
	dc := diagnosis.Context{
		Category:  diagnosis.Category(categoryFlag),
		MakeModel: makeModelFlag,
		Symptoms:  symptomsFlag,
	}
	if err := dc.Validate(); err != nil && dc.Category != "" {
		log.Fatal().Err(err).Msg("Invalid --category")
	}
	if dc.Category == "" {
		var err error
		if dc, err = prompter.FillContext(dc, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to read diagnostic context")
		}
	}

	// EMF lines would corrupt the report on stdout.
	requester, err := cli.InitRequester(ctx, cfg, validateFlag, io.Discard)
	if err != nil {
		log.Fatal().Err(err).Msg(cli.SetupErrorMessage(err))
	}

	captureOpts := []capture.Option{capture.WithLimits(cfg.Limits())}
	if recordFlag {
		if err := capture.CheckFFmpegAvailable(); err != nil {
			log.Fatal().Err(err).Msg("Recording requires ffmpeg")
		}
		captureOpts = append(captureOpts, capture.WithMicrophone(capture.FFmpegMicrophone{Device: deviceFlag}))
	}

	scanner := workflow.NewScanner(
		capture.NewController(captureOpts...),
		requester,
		language,
		workflow.WithMinProcessing(0),
	)
	if !jsonFlag {
		scanner.Subscribe(showProgress)
	}
	if err := scanner.Dispatch(workflow.ContextChanged{Context: dc}); err != nil {
		log.Fatal().Err(err).Msg("Invalid diagnostic context")
	}

	logging.NewStartupLogger("sonic-cli").
		Version(version).
		Config("model", cfg.Model).
		Config("language", string(language)).
		Config("max_recording", cfg.MaxRecording.String()).
		Feature("record", recordFlag).
		Feature("json", jsonFlag).
		InitDuration(time.Since(initStart)).
		Log()

	var result report.Result
	if recordFlag {
		fmt.Fprintf(os.Stderr, "Recording for up to %s.\n", cli.FormatSeconds(cfg.MaxRecording))
		go func() {
			if _, err := prompter.Line("Press Enter to stop"); err == nil {
				scanner.StopRecording()
			}
		}()
		result, err = scanner.ScanRecording(ctx)
	} else {
		result, err = scanFile(ctx, scanner, cfg.Limits())
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Capture failed")
	}

	if err := printResult(os.Stdout, result, language); err != nil {
		log.Fatal().Err(err).Msg("Failed to print report")
	}
	if result.IsError() {
		os.Exit(2)
	}
}

func scanFile(ctx context.Context, scanner *workflow.Scanner, limits capture.Limits) (report.Result, error) {
	path := fileFlag
	if pickFlag {
		picked, err := cli.PickMediaFile()
		if err != nil {
			return report.Result{}, err
		}
		path = picked
	}

	f, closer, err := capture.LoadFile(path)
	if err != nil {
		return report.Result{}, err
	}
	defer closer.Close()
	if !jsonFlag {
		fmt.Fprintf(os.Stderr, "Diagnosing %s\n", cli.DescribeMedia(f, limits))
	}
	return scanner.ScanFile(ctx, f)
}

func showProgress(st workflow.State) {
	switch st.Phase {
	case workflow.PhaseCapturing:
		fmt.Fprintln(os.Stderr, "Capturing...")
	case workflow.PhaseProcessing:
		fmt.Fprintln(os.Stderr, "Analyzing signal...")
	}
}

func printResult(w io.Writer, result report.Result, language lang.Language) error {
	if !jsonFlag {
		return report.Render(w, result, language)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func loadConfig() config.Config {
	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if durationFlag != 0 {
		cfg.MaxRecording = durationFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

// openPreferences falls back to memory when the home directory is unusable.
func openPreferences() prefs.Store {
	store, err := prefs.NewFileStore()
	if err != nil {
		log.Warn().Err(err).Msg("Preferences unavailable, using defaults")
		return &prefs.MemoryStore{}
	}
	return store
}

func runLang(cmd *cobra.Command, args []string) {
	logging.Init()
	store := openPreferences()

	if len(args) == 0 {
		l := prefs.LanguageOr(store, lang.Default)
		fmt.Printf("Report language: %s (%s)\n", l.Name(), l)
		return
	}

	l, err := lang.Parse(args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid language")
	}
	if err := prefs.SetLanguage(store, l); err != nil {
		if errors.Is(err, os.ErrPermission) {
			log.Fatal().Err(err).Msg("Cannot write preferences file")
		}
		log.Fatal().Err(err).Msg("Failed to save language preference")
	}
	fmt.Printf("Report language set to %s\n", l.Name())
}
