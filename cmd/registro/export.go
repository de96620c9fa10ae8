package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vxs/registro/internal/domain/audit"
	"github.com/vxs/registro/internal/domain/patient"
	"github.com/vxs/registro/internal/platform/spreadsheet"
)

type exportOptions struct {
	statuses []string
	search   string
	out      string
	verify   bool
}

func exportCmd() *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the filtered patient list to an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			if opts.out == "" {
				opts.out = cfg.ExportFilename
			}

			be, err := openBackend(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer be.close()

			loc, _ := cfg.Location()
			svc := patient.NewService(be.patients, audit.NewService(be.edits, loc), logger, patient.WithLocation(loc))
			return runExport(cmd.Context(), svc, opts, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringSliceVar(&opts.statuses, "estado", []string{string(patient.StatusActive)}, "Statuses to include (repeatable or comma separated)")
	cmd.Flags().StringVar(&opts.search, "q", "", "Case-insensitive search on name or diagnosis")
	cmd.Flags().StringVar(&opts.out, "out", "", "Output path (defaults to EXPORT_FILENAME)")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Read the workbook back and check the row count")
	return cmd
}

func runExport(ctx context.Context, svc *patient.Service, opts exportOptions, stdout io.Writer, logger zerolog.Logger) error {
	statuses, err := patient.ParseStatuses(opts.statuses)
	if err != nil {
		return err
	}
	q := patient.Query{Statuses: statuses, Search: opts.search}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("create %s: %w", opts.out, err)
	}
	n, err := svc.Export(ctx, q, svc.Now(), f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(opts.out)
		return fmt.Errorf("export: %w", err)
	}
	logger.Info().Str("path", opts.out).Int("rows", n).Msg("export written")

	if opts.verify {
		if err := verifyWorkbook(opts.out, n); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "Exported %d patient(s) to %s\n", n, opts.out)
	return nil
}

// verifyWorkbook checks that path holds the export header and want rows.
func verifyWorkbook(path string, want int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	headers, rows, err := spreadsheet.Read(f)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	expected := patient.ExportHeaders
	if len(headers) != len(expected) {
		return fmt.Errorf("verify %s: expected %d columns, found %d", path, len(expected), len(headers))
	}
	for i := range expected {
		if headers[i] != expected[i] {
			return fmt.Errorf("verify %s: column %d is %q, expected %q", path, i+1, headers[i], expected[i])
		}
	}
	if len(rows) != want {
		return fmt.Errorf("verify %s: expected %d rows, found %d", path, want, len(rows))
	}
	return nil
}
