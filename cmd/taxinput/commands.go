package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/taxinput/internal/api"
	"github.com/noah-isme/taxinput/internal/health"
	"github.com/noah-isme/taxinput/internal/obs"
	"github.com/noah-isme/taxinput/internal/ratelimit"
	"github.com/noah-isme/taxinput/internal/record"
	"github.com/noah-isme/taxinput/internal/shell"
	"github.com/noah-isme/taxinput/internal/tax"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "taxinput",
		Short:         "Malaysian personal income tax calculator",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          exactArgs(0),
		RunE:          a.runShell,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the interactive register, compute and save session",
			Args:  exactArgs(0),
			RunE:  a.runShell,
		},
		a.calcCommand(),
		a.recordsCommand(),
		a.serveCommand(),
	)
	return root
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

func (a *app) runShell(cmd *cobra.Command, _ []string) error {
	sh, err := shell.New(shell.Config{
		Users:       a.users,
		Records:     a.records,
		Calculator:  a.table,
		In:          cmd.InOrStdin(),
		Out:         cmd.OutOrStdout(),
		Logger:      a.logger,
		Validate:    a.validate,
		RecordsName: a.records.Path(),
	})
	if err != nil {
		return err
	}
	return sh.Run(cmd.Context())
}

func (a *app) calcCommand() *cobra.Command {
	var breakdown bool
	cmd := &cobra.Command{
		Use:   "calc <income> <relief>",
		Short: "Print the tax payable on income less relief",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := tax.ParseInput(args[0], args[1])
			if err != nil {
				obs.ObserveTaxComputation("calc", err)
				return err
			}
			result := a.table.Calculate(in)
			obs.ObserveTaxComputation("calc", nil)

			out := cmd.OutOrStdout()
			if breakdown {
				for _, c := range result.Breakdown {
					fmt.Fprintf(out, "%-24s %5s%%  %14s  %12s\n",
						bandLabel(c), shell.FormatAmount(c.Rate*100), shell.FormatAmount(c.Taxable), shell.FormatAmount(c.Tax))
				}
			}
			fmt.Fprintf(out, "Tax payable (RM): %s\n", shell.FormatAmount(result.TaxPayable))
			return nil
		},
	}
	cmd.Flags().BoolVar(&breakdown, "breakdown", false, "print the contribution of each band")
	return cmd
}

func bandLabel(c tax.BandCharge) string {
	if math.IsInf(c.Upper, 1) {
		return fmt.Sprintf("%s and above", shell.FormatAmount(c.Lower))
	}
	return fmt.Sprintf("%s - %s", shell.FormatAmount(c.Lower), shell.FormatAmount(c.Upper))
}

func (a *app) recordsCommand() *cobra.Command {
	var ic string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Print stored tax records",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				rows []record.Record
				err  error
			)
			if ic != "" {
				rows, err = a.records.ListByIC(cmd.Context(), ic)
			} else {
				rows, err = a.records.ReadAll(cmd.Context())
			}
			if errors.Is(err, record.ErrNoRecords) {
				fmt.Fprintln(cmd.OutOrStdout(), "No tax records found.")
				return nil
			}
			if err != nil {
				return err
			}
			return shell.RenderTable(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&ic, "ic", "", "only show records for this IC number")
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tax API over HTTP",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			limiter, err := ratelimit.NewMemoryLimiter(a.cfg.RateLimit)
			if err != nil {
				return err
			}
			router := api.NewRouter(api.RouterConfig{
				Handler: api.NewHandler(api.HandlerConfig{
					Table:    &a.table,
					Records:  a.records,
					Validate: a.validate,
					Logger:   a.logger,
				}),
				Health:         health.Handler{Records: a.records, Users: a.users},
				Logger:         a.logger,
				Metrics:        obs.NewHTTPMetrics(a.cfg.MetricsNamespace, nil, nil),
				Limiter:        limiter,
				AllowedOrigins: a.cfg.CORSAllowedOrigins,
				Tracing:        a.tracing,
			})
			return serve(cmd.Context(), a, router)
		},
	}
}

func serve(ctx context.Context, a *app, handler http.Handler) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.logger.Info().Msg("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
