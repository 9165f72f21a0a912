package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/internal/adapters/records"
	"github.com/clinicapro/cardiobot/internal/pipeline"
	"github.com/clinicapro/cardiobot/pkg/config"
)

type analyzeOptions struct {
	pipeline string
	save     bool
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze [case text]",
		Short: "Analyse a single case and print the report",
		Long: `Analyse one case description and print the report. The case is taken from
the arguments, or from standard input when none are given.`,
		Example: `  cardiobot analyze "Patient, 58, chest pain 2h, BP 160/100, diabetic"
  cardiobot analyze --pipeline panel < case.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read case: %w", err)
				}
				text = string(data)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), cfg, logger, strings.TrimSpace(text), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.pipeline, "pipeline", "p", "", "pipeline to run (default from configuration)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "store the analysis in the records store")
	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, text string, opts analyzeOptions) error {
	gw, err := newCompletion(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create completion gateway: %w", err)
	}
	runner, err := newRunner(cfg, gw, logger)
	if err != nil {
		return err
	}
	if err := runner.Admission().Admit(text); err != nil {
		return err
	}

	res, err := runner.Run(ctx, pipeline.Input{Pipeline: opts.pipeline, CaseText: text})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "CASE REPORT\nCase: %s\nPipeline: %s\nDate: %s\n\n%s\n\n%s\n",
		res.CaseID, res.Pipeline, res.Timestamp.Format(time.DateTime), res.FinalText, pipeline.Disclaimer)

	if !opts.save {
		return nil
	}
	store, err := records.Open(ctx, cfg.Records)
	if err != nil {
		return fmt.Errorf("open records store: %w", err)
	}
	defer store.Close()

	if _, err := store.SaveAnalysis(ctx, records.Analysis{
		CaseID:   res.CaseID,
		Pipeline: res.Pipeline,
		CaseText: text,
		Report:   res.FinalText,
	}); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	fmt.Fprintf(out, "\nSaved as %s.\n", res.CaseID)
	return nil
}
