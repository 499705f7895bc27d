package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/binzume/rignorm/config"
	"github.com/binzume/rignorm/pipeline"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	profilePath string
	logLevel    string
	noProgress  bool
)

var errFailed = errors.New("some assets failed")

var rootCmd = &cobra.Command{
	Use:           "rignorm",
	Short:         "Normalize skinned character skeletons to a reference rig",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "p", "", "profile file (.yaml, .toml or .json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(retargetCmd, batchCmd, collapseCmd, watchCmd, dumpCmd)
}

func newLogger() (*log.Logger, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "rignorm",
	})
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	return logger, nil
}

func newPipeline() (*pipeline.Pipeline, *log.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	profile := config.Default()
	if profilePath != "" {
		if profile, err = config.Load(profilePath); err != nil {
			return nil, nil, err
		}
		logger.Info("profile loaded", "name", profile.Name, "path", profilePath)
	}
	return pipeline.New(&pipeline.Options{Profile: profile, Logger: logger}), logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printReport(rep *pipeline.Report) {
	status := "OK"
	if rep.Deviation != nil && !rep.Perfect() {
		status = "PARTIAL"
	}
	fmt.Printf("%s: %s renamed=%d deleted=%d collapsed=%d", rep.Asset, status, len(rep.Renamed), len(rep.Deleted), rep.CollapsedVertices())
	if rep.Deviation != nil {
		fmt.Printf(" max_diff=%.6f", rep.Deviation.MaxTranslation)
	}
	fmt.Println()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
