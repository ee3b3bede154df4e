package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/taxinput/internal/common"
	"github.com/noah-isme/taxinput/internal/credential"
	"github.com/noah-isme/taxinput/internal/obs"
	"github.com/noah-isme/taxinput/internal/record"
	"github.com/noah-isme/taxinput/internal/tax"
)

// CredentialStore registers and authenticates users.
type CredentialStore interface {
	HasUsers(ctx context.Context) (bool, error)
	Register(ctx context.Context, userID, ic, password string) (credential.User, error)
	Login(ctx context.Context, userID, password string) (credential.User, error)
}

// RecordStore persists tax computations.
type RecordStore interface {
	Append(ctx context.Context, rec record.Record) (record.Record, error)
	ReadAll(ctx context.Context) ([]record.Record, error)
}

// Calculator computes tax payable from income and relief.
type Calculator interface {
	Compute(income, relief float64) float64
}

// Config wires the shell's collaborators.
type Config struct {
	Users       CredentialStore
	Records     RecordStore
	Calculator  Calculator
	In          io.Reader
	Out         io.Writer
	Logger      zerolog.Logger
	Validate    *validator.Validate
	RecordsName string
}

// Shell drives the interactive register/login, compute, save and display flow.
type Shell struct {
	users       CredentialStore
	records     RecordStore
	calc        Calculator
	prompt      *Prompter
	out         io.Writer
	logger      zerolog.Logger
	validate    *validator.Validate
	recordsName string
}

// New constructs a Shell.
func New(cfg Config) (*Shell, error) {
	if cfg.Users == nil {
		return nil, errors.New("shell: credential store is required")
	}
	if cfg.Records == nil {
		return nil, errors.New("shell: record store is required")
	}
	if cfg.In == nil || cfg.Out == nil {
		return nil, errors.New("shell: input and output are required")
	}
	calc := cfg.Calculator
	if calc == nil {
		calc = tax.Published()
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	name := strings.TrimSpace(cfg.RecordsName)
	if name == "" {
		name = "tax_records.csv"
	}
	return &Shell{
		users:       cfg.Users,
		records:     cfg.Records,
		calc:        calc,
		prompt:      NewPrompter(cfg.In, cfg.Out),
		out:         cfg.Out,
		logger:      cfg.Logger,
		validate:    validate,
		recordsName: name,
	}, nil
}

// Run executes one interactive session. It returns nil when the session ends
// normally, including after a rejected login, and an error when input ends
// early or a store cannot be read.
func (s *Shell) Run(ctx context.Context) error {
	s.prompt.Println("Malaysian Tax Input Program")

	registered, err := s.users.HasUsers(ctx)
	if err != nil {
		return fmt.Errorf("shell: check users: %w", err)
	}

	var user credential.User
	var ok bool
	if !registered {
		s.prompt.Println("No registered users found. Please register.")
		if user, ok, err = s.register(ctx); err != nil || !ok {
			return err
		}
	} else {
		choice, err := s.prompt.Line("Do you want to (l)ogin or (r)egister? [l/r]: ")
		if err != nil {
			return inputErr(err)
		}
		if strings.EqualFold(choice, "r") {
			user, ok, err = s.register(ctx)
			if err != nil {
				return err
			}
			if !ok {
				user, ok, err = s.login(ctx)
			}
		} else {
			user, ok, err = s.login(ctx)
		}
		if err != nil || !ok {
			return err
		}
	}
	ctx = common.WithUserID(ctx, user.UserID)

	in, err := s.collectInput()
	if err != nil {
		return err
	}

	payable := s.calc.Compute(in.Income, in.Relief)
	obs.ObserveTaxComputation("cli", nil)
	s.prompt.Printf("\nTax payable (RM): %s\n", FormatAmount(payable))

	s.save(ctx, record.Record{
		ICNumber:   user.ICNumber,
		Income:     in.Income,
		Relief:     in.Relief,
		TaxPayable: payable,
	})

	view, err := s.prompt.Line("Do you want to view saved tax records? (y/n): ")
	if err != nil {
		return inputErr(err)
	}
	if strings.EqualFold(view, "y") {
		return s.displayRecords(ctx)
	}
	return nil
}

func (s *Shell) register(ctx context.Context) (credential.User, bool, error) {
	s.prompt.Println("=== Registration ===")
	userID, err := s.prompt.Line("Enter user id (username): ")
	if err != nil {
		return credential.User{}, false, inputErr(err)
	}
	ic, err := s.prompt.Line("Enter IC number (12 digits, e.g. 980101014321): ")
	if err != nil {
		return credential.User{}, false, inputErr(err)
	}
	password, err := s.prompt.Password("Enter password (last 4 digits of your IC): ")
	if err != nil {
		return credential.User{}, false, inputErr(err)
	}

	user, err := s.users.Register(ctx, userID, ic, password)
	obs.ObserveLogin("register", err)
	switch {
	case err == nil:
		s.logger.Info().Str("user_id", user.UserID).Msg("user registered")
		s.prompt.Println("Registration successful. You may login now.")
		return user, true, nil
	case errors.Is(err, credential.ErrInvalidCredentials):
		s.prompt.Println("Registration failed: IC must be 12 digits and password must be last 4 digits.")
	case errors.Is(err, credential.ErrInvalidUserID):
		s.prompt.Println("Registration failed: user id is required (at most 64 characters).")
	case errors.Is(err, credential.ErrAlreadyRegistered):
		s.prompt.Println("IC already registered. Please login.")
	case errors.Is(err, credential.ErrUserIDTaken):
		s.prompt.Println("User id already taken. Please login or choose another.")
	default:
		return credential.User{}, false, fmt.Errorf("shell: register: %w", err)
	}
	s.logger.Warn().Err(err).Str("user_id", userID).Msg("registration rejected")
	return credential.User{}, false, nil
}

func (s *Shell) login(ctx context.Context) (credential.User, bool, error) {
	s.prompt.Println("=== Login ===")
	userID, err := s.prompt.Line("Enter user id: ")
	if err != nil {
		return credential.User{}, false, inputErr(err)
	}
	password, err := s.prompt.Password("Enter password (last 4 digits of IC): ")
	if err != nil {
		return credential.User{}, false, inputErr(err)
	}

	user, err := s.users.Login(ctx, userID, password)
	obs.ObserveLogin("login", err)
	switch {
	case err == nil:
		s.logger.Info().Str("user_id", user.UserID).Msg("login succeeded")
		s.prompt.Println("Login successful.")
		return user, true, nil
	case errors.Is(err, credential.ErrNoUsers):
		s.prompt.Println("No registered users. Please register first.")
	case errors.Is(err, credential.ErrUserNotFound):
		s.prompt.Println("User id not found.")
	case errors.Is(err, credential.ErrInvalidCredentials):
		s.prompt.Println("Login failed: incorrect password.")
	default:
		return credential.User{}, false, fmt.Errorf("shell: login: %w", err)
	}
	s.logger.Warn().Err(err).Str("user_id", userID).Msg("login rejected")
	return credential.User{}, false, nil
}

func (s *Shell) collectInput() (tax.Input, error) {
	income, err := s.amount("income", "Enter annual income (RM): ")
	if err != nil {
		return tax.Input{}, err
	}
	relief, err := s.amount("relief", "Enter total tax relief (RM): ")
	if err != nil {
		return tax.Input{}, err
	}
	in := tax.Input{Income: income, Relief: relief}
	if err := s.validate.Struct(in); err != nil {
		return tax.Input{}, fmt.Errorf("shell: validate input: %w", err)
	}
	return in, nil
}

// amount re-prompts until the answer is a non-negative number.
func (s *Shell) amount(field, prompt string) (float64, error) {
	for {
		raw, err := s.prompt.Line(prompt)
		if err != nil {
			return 0, inputErr(err)
		}
		value, err := tax.ParseAmount(field, raw)
		if err == nil {
			err = s.validate.Var(value, "gte=0")
		}
		if err == nil {
			return value, nil
		}
		s.logger.Debug().Err(err).Str("field", field).Msg("rejected amount")
		s.prompt.Println("Invalid input. Enter a non-negative number.")
	}
}

func (s *Shell) save(ctx context.Context, rec record.Record) {
	saved, err := s.records.Append(ctx, rec)
	obs.ObserveRecordAppend(err)
	userID, _ := common.UserID(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("save record")
		s.prompt.Println("Failed to save record:", err)
		return
	}
	s.logger.Info().Str("user_id", userID).Str("record_id", saved.ID.String()).Msg("record saved")
	s.prompt.Printf("Record saved to %s\n", s.recordsName)
}

func (s *Shell) displayRecords(ctx context.Context) error {
	records, err := s.records.ReadAll(ctx)
	if errors.Is(err, record.ErrNoRecords) {
		s.prompt.Println("No tax records found.")
		return nil
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("read records")
		s.prompt.Println("No tax records found.")
		return nil
	}
	return RenderTable(s.out, records)
}

func inputErr(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("shell: input closed: %w", io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("shell: read input: %w", err)
}
