package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/discovery"
)

var (
	ingestSource   string
	ingestFile     string
	ingestXLSX     string
	ingestSheet    string
	ingestSkipRows int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest raw items into the discovery queue",
	Long:  "Reads a single JSON payload (--file) or a whole workbook (--xlsx) and queues each item for review, flagging likely duplicates.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		source := ingestSource
		if source == "" {
			source = cfg.Discovery.DefaultSource
		}

		if ingestXLSX != "" {
			n, err := env.Pipeline.IngestWorkbook(ctx, ingestXLSX, source, discovery.WorkbookOptions{
				SheetName: ingestSheet,
				SkipRows:  ingestSkipRows,
			})
			if err != nil {
				return eris.Wrap(err, "ingest workbook")
			}
			zap.L().Info("workbook ingested", zap.String("path", ingestXLSX), zap.Int("items", n))
			return nil
		}

		if ingestFile == "" {
			return eris.New("either --file or --xlsx is required")
		}

		raw, err := os.ReadFile(ingestFile)
		if err != nil {
			return eris.Wrap(err, "read payload")
		}

		item, err := env.Pipeline.Ingest(ctx, source, raw)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		fields := []zap.Field{
			zap.String("id", item.ID),
			zap.Float64("extraction_confidence", item.ExtractionConfidence),
		}
		if item.PotentialDuplicateID != nil {
			fields = append(fields,
				zap.String("potential_duplicate", *item.PotentialDuplicateID),
				zap.Float64("similarity", item.SimilarityScore),
			)
		}
		zap.L().Info("item queued", fields...)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source identifier (default from config)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to a JSON payload")
	ingestCmd.Flags().StringVar(&ingestXLSX, "xlsx", "", "path to an xlsx workbook")
	ingestCmd.Flags().StringVar(&ingestSheet, "sheet", "", "workbook sheet name (default first sheet)")
	ingestCmd.Flags().IntVar(&ingestSkipRows, "skip-rows", 0, "data rows to skip after the header")
	rootCmd.AddCommand(ingestCmd)
}
