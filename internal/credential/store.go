package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/taxinput/internal/csvfile"
)

var (
	// ErrInvalidCredentials indicates the IC/password pair failed verification.
	ErrInvalidCredentials = errors.New("credential: IC must be 12 digits and password must be its last 4 digits")
	// ErrInvalidUserID indicates a missing or malformed user id.
	ErrInvalidUserID = errors.New("credential: user id is required and must be at most 64 characters")
	// ErrAlreadyRegistered is returned when the IC already belongs to a user.
	ErrAlreadyRegistered = errors.New("credential: IC already registered")
	// ErrUserIDTaken is returned when the user id already exists.
	ErrUserIDTaken = errors.New("credential: user id already registered")
	// ErrUserNotFound is returned when logging in with an unknown user id.
	ErrUserNotFound = errors.New("credential: user id not found")
	// ErrNoUsers is returned when the credential file does not exist yet.
	ErrNoUsers = errors.New("credential: no registered users")
)

const (
	colUserID       = "user_id"
	colICNumber     = "ic_number"
	colPasswordHash = "password_hash"
)

var header = []string{colUserID, colICNumber, colPasswordHash}

// User is a registered identity.
type User struct {
	UserID   string `json:"user_id"`
	ICNumber string `json:"ic_number"`
}

type registration struct {
	UserID   string `validate:"required,max=64,printascii"`
	ICNumber string `validate:"required,len=12,numeric"`
}

type userRow struct {
	User
	passwordHash string
}

// Options configures a CSVStore.
type Options struct {
	Path       string
	HashParams *argon2id.Params
	Validate   *validator.Validate
}

// CSVStore keeps user identities in a flat CSV file. Writes are serialized
// within the process; concurrent writers in other processes are unsupported.
type CSVStore struct {
	path     string
	params   *argon2id.Params
	validate *validator.Validate
	mu       sync.Mutex
}

// NewCSVStore constructs a store persisting to opts.Path.
func NewCSVStore(opts Options) (*CSVStore, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("credential: path is required")
	}
	params := opts.HashParams
	if params == nil {
		params = argon2id.DefaultParams
	}
	validate := opts.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &CSVStore{path: path, params: params, validate: validate}, nil
}

// Path returns the backing file path.
func (s *CSVStore) Path() string {
	return s.path
}

// Writable reports whether the credential file's directory accepts new files.
func (s *CSVStore) Writable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := csvfile.Probe(s.path); err != nil {
		return fmt.Errorf("credential: storage not writable: %w", err)
	}
	return nil
}

// HasUsers reports whether at least one user is registered.
func (s *CSVStore) HasUsers(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.load()
	if errors.Is(err, ErrNoUsers) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Register verifies the IC/password pair and stores a new user.
func (s *CSVStore) Register(ctx context.Context, userID, ic, password string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	userID = strings.TrimSpace(userID)
	if !VerifyIC(ic, password) {
		return User{}, ErrInvalidCredentials
	}
	reg := registration{UserID: userID, ICNumber: DigitsOnly(ic)}
	if err := s.validate.Struct(reg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "UserID" {
			return User{}, ErrInvalidUserID
		}
		return User{}, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.load()
	if err != nil && !errors.Is(err, ErrNoUsers) {
		return User{}, err
	}
	for _, row := range rows {
		if row.ICNumber == reg.ICNumber {
			return User{}, ErrAlreadyRegistered
		}
		if row.UserID == reg.UserID {
			return User{}, ErrUserIDTaken
		}
	}

	hash, err := argon2id.CreateHash(password, s.params)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	created := userRow{User: User{UserID: reg.UserID, ICNumber: reg.ICNumber}, passwordHash: hash}
	rows = append(rows, created)

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{row.UserID, row.ICNumber, row.passwordHash})
	}
	if err := csvfile.WriteAtomic(s.path, header, records); err != nil {
		return User{}, fmt.Errorf("credential: save users: %w", err)
	}
	return created.User, nil
}

// Login looks up userID and checks password against the stored IC and hash.
func (s *CSVStore) Login(ctx context.Context, userID, password string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	userID = strings.TrimSpace(userID)

	s.mu.Lock()
	rows, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return User{}, err
	}

	for _, row := range rows {
		if row.UserID != userID {
			continue
		}
		if !VerifyIC(row.ICNumber, password) {
			return User{}, ErrInvalidCredentials
		}
		if row.passwordHash != "" {
			ok, err := argon2id.ComparePasswordAndHash(password, row.passwordHash)
			if err != nil {
				return User{}, fmt.Errorf("credential: compare hash for %s: %w", userID, err)
			}
			if !ok {
				return User{}, ErrInvalidCredentials
			}
		}
		return row.User, nil
	}
	return User{}, ErrUserNotFound
}

// Verify reports whether userID and password identify a registered user.
func (s *CSVStore) Verify(userID, password string) bool {
	_, err := s.Login(context.Background(), userID, password)
	return err == nil
}

// load must be called with s.mu held.
func (s *CSVStore) load() ([]userRow, error) {
	table, err := csvfile.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoUsers
	}
	if err != nil {
		return nil, fmt.Errorf("credential: load users: %w", err)
	}
	if len(table.Header) == 0 {
		return nil, nil
	}
	if !table.Has(colUserID) || !table.Has(colICNumber) {
		return nil, fmt.Errorf("credential: load users: %w", csvfile.ErrMissingColumn)
	}
	rows := make([]userRow, 0, len(table.Rows))
	for _, rec := range table.Rows {
		rows = append(rows, userRow{
			User: User{
				UserID:   table.Field(rec, colUserID),
				ICNumber: DigitsOnly(table.Field(rec, colICNumber)),
			},
			passwordHash: table.Field(rec, colPasswordHash),
		})
	}
	return rows, nil
}
