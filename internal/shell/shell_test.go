package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/taxinput/internal/credential"
	"github.com/noah-isme/taxinput/internal/record"
)

type fixture struct {
	users   *credential.CSVStore
	records *record.CSVStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	users, err := credential.NewCSVStore(credential.Options{
		Path:       filepath.Join(dir, "users.csv"),
		HashParams: &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
	})
	require.NoError(t, err)
	records, err := record.NewCSVStore(filepath.Join(dir, "tax_records.csv"))
	require.NoError(t, err)
	return fixture{users: users, records: records}
}

func (f fixture) run(t *testing.T, records RecordStore, input string) (string, error) {
	t.Helper()
	if records == nil {
		records = f.records
	}
	var out bytes.Buffer
	sh, err := New(Config{
		Users:   f.users,
		Records: records,
		In:      strings.NewReader(input),
		Out:     &out,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	err = sh.Run(context.Background())
	return out.String(), err
}

func TestRunFirstUserRegistersComputesAndDisplays(t *testing.T) {
	f := newFixture(t)
	input := strings.Join([]string{
		"alice", "980101-01-4321", "4321",
		"abc", "-5", "60000",
		"9000",
		"y",
	}, "\n") + "\n"

	out, err := f.run(t, nil, input)
	require.NoError(t, err)
	require.Contains(t, out, "No registered users found. Please register.")
	require.Contains(t, out, "Registration successful. You may login now.")
	require.Equal(t, 2, strings.Count(out, "Invalid input. Enter a non-negative number."))
	require.Contains(t, out, "Tax payable (RM): 1610.00")
	require.Contains(t, out, "Record saved to tax_records.csv")
	require.Contains(t, out, "| 980101014321 | 60000.00 |")

	records, err := f.records.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "980101014321", records[0].ICNumber)
	require.Equal(t, 1610.0, records[0].TaxPayable)
}

func TestRunFirstUserRegistrationFailureEndsSession(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, nil, "alice\n980101014321\n0000\n")
	require.NoError(t, err)
	require.Contains(t, out, "Registration failed: IC must be 12 digits and password must be last 4 digits.")
	require.NotContains(t, out, "Enter annual income")
}

func TestRunLoginAndSkipDisplay(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.Register(context.Background(), "bob", "750505105555", "5555")
	require.NoError(t, err)

	out, err := f.run(t, nil, "l\nbob\n5555\n20000\n0\nn\n")
	require.NoError(t, err)
	require.Contains(t, out, "Login successful.")
	require.Contains(t, out, "Tax payable (RM): 150.00")
	require.NotContains(t, out, "ic_number")
}

func TestRunLoginFailures(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.Register(context.Background(), "bob", "750505105555", "5555")
	require.NoError(t, err)

	out, err := f.run(t, nil, "l\nbob\n1234\n")
	require.NoError(t, err)
	require.Contains(t, out, "Login failed: incorrect password.")
	require.NotContains(t, out, "Enter annual income")

	out, err = f.run(t, nil, "\nnobody\n1234\n")
	require.NoError(t, err)
	require.Contains(t, out, "User id not found.")

	_, err = f.records.ReadAll(context.Background())
	require.ErrorIs(t, err, record.ErrNoRecords)
}

func TestRunRegisterDuplicateFallsBackToLogin(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.Register(context.Background(), "bob", "750505105555", "5555")
	require.NoError(t, err)

	input := "r\nbobby\n750505105555\n5555\nbob\n5555\n100000\n0\ny\n"
	out, err := f.run(t, nil, input)
	require.NoError(t, err)
	require.Contains(t, out, "IC already registered. Please login.")
	require.Contains(t, out, "=== Login ===")
	require.Contains(t, out, "Tax payable (RM): 9400.00")
	require.Contains(t, out, "9400.00")
}

func TestRunInputClosedEarly(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, nil, "alice\n980101014321\n4321\n50000\n")
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type failingRecords struct{}

func (failingRecords) Append(context.Context, record.Record) (record.Record, error) {
	return record.Record{}, errors.New("disk full")
}

func (failingRecords) ReadAll(context.Context) ([]record.Record, error) {
	return nil, record.ErrNoRecords
}

func TestRunSaveFailureIsReported(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, failingRecords{}, "alice\n980101014321\n4321\n50000\n50000\ny\n")
	require.NoError(t, err)
	require.Contains(t, out, "Tax payable (RM): 0.00")
	require.Contains(t, out, "Failed to save record: disk full")
	require.Contains(t, out, "No tax records found.")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTable(&buf, []record.Record{
		{ID: uuid.New(), ICNumber: "980101014321", Income: 60000, Relief: 9000, TaxPayable: 1610,
			ComputedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)},
		{ICNumber: "750505105555", Income: 5000.5, Relief: 0, TaxPayable: 0.01},
	})
	require.NoError(t, err)

	want := "" +
		"+--------------+----------+------------+-------------+---------------------+\n" +
		"| ic_number    | income   | tax_relief | tax_payable | computed_at         |\n" +
		"|--------------+----------+------------+-------------+---------------------|\n" +
		"| 980101014321 | 60000.00 |    9000.00 |     1610.00 | 2025-03-01 09:30:00 |\n" +
		"| 750505105555 |  5000.50 |       0.00 |        0.01 |                     |\n" +
		"+--------------+----------+------------+-------------+---------------------+\n"
	require.Equal(t, want, buf.String())
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "150.00", FormatAmount(150.00000000000003))
	require.Equal(t, "0.01", FormatAmount(0.005))
	require.Equal(t, "1234567.80", FormatAmount(1234567.8))
}
