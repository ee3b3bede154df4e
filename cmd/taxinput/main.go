package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/argon2id"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/taxinput/internal/config"
	"github.com/noah-isme/taxinput/internal/credential"
	"github.com/noah-isme/taxinput/internal/obs"
	"github.com/noah-isme/taxinput/internal/record"
	"github.com/noah-isme/taxinput/internal/tax"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidInput = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app holds the collaborators shared by every command.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	validate *validator.Validate
	users    *credential.CSVStore
	records  *record.CSVStore
	table    tax.Table
	tracing  bool
}

func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(errOut, "config:", err)
		return exitFailure
	}
	logger := obs.NewLogger(errOut, cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	defer func() {
		if err := obs.WriteTextfile(cfg.MetricsTextfile, nil); err != nil {
			logger.Error().Err(err).Msg("write metrics textfile")
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("initialise stores")
		fmt.Fprintln(errOut, "Error:", err)
		return exitFailure
	}

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "taxinput",
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			a.tracing = true
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		return exitCode(err)
	}
	return exitOK
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	validate := validator.New()
	params := *argon2id.DefaultParams
	params.Memory = cfg.Argon2MemoryKiB
	users, err := credential.NewCSVStore(credential.Options{
		Path:       cfg.UsersFile,
		HashParams: &params,
		Validate:   validate,
	})
	if err != nil {
		return nil, err
	}
	records, err := record.NewCSVStore(cfg.RecordsFile)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		validate: validate,
		users:    users,
		records:  records,
		table:    tax.Published(),
	}, nil
}

// usageError marks failures caused by bad arguments or flags.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var usage usageError
	if errors.As(err, &usage) || errors.Is(err, tax.ErrInvalidInput) {
		return exitInvalidInput
	}
	return exitFailure
}
