package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/taxinput/internal/common"
	"github.com/noah-isme/taxinput/internal/obs"
	"github.com/noah-isme/taxinput/internal/record"
	"github.com/noah-isme/taxinput/internal/security"
	"github.com/noah-isme/taxinput/internal/tax"
)

const (
	defaultRecordsPerPage = 20
	maxRecordsPerPage     = 100
)

// RecordLister reads persisted computations.
type RecordLister interface {
	ReadAll(ctx context.Context) ([]record.Record, error)
	ListByIC(ctx context.Context, ic string) ([]record.Record, error)
}

// Handler serves the tax endpoints.
type Handler struct {
	table    tax.Table
	records  RecordLister
	validate *validator.Validate
	logger   zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Table    *tax.Table
	Records  RecordLister
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// NewHandler constructs a Handler. A nil Table selects the published table.
func NewHandler(cfg HandlerConfig) *Handler {
	table := tax.Published()
	if cfg.Table != nil {
		table = *cfg.Table
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{table: table, records: cfg.Records, validate: validate, logger: cfg.Logger}
}

type computeRequest struct {
	Income json.RawMessage `json:"income"`
	Relief json.RawMessage `json:"relief"`
}

type bracketRow struct {
	Lower float64  `json:"lower"`
	Upper *float64 `json:"upper"`
	Rate  float64  `json:"rate"`
	Base  float64  `json:"base"`
}

// Compute handles POST /api/v1/tax/compute. Amounts may be JSON strings or numbers.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		obs.ObserveTaxComputation("http", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			security.TooLarge(w, maxErr.Limit)
			return
		}
		common.WriteError(w, &common.AppError{
			Code:       "INVALID_JSON",
			Message:    "request body must be a JSON object",
			HTTPStatus: http.StatusBadRequest,
			Err:        err,
		})
		return
	}

	in, err := tax.ParseInput(amountText(req.Income), amountText(req.Relief))
	if err == nil {
		err = h.validate.Struct(in)
	}
	if err != nil {
		obs.ObserveTaxComputation("http", err)
		common.WriteError(w, invalidInput(err))
		return
	}

	result := h.table.Calculate(in)
	obs.ObserveTaxComputation("http", nil)
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Brackets handles GET /api/v1/tax/brackets.
func (h *Handler) Brackets(w http.ResponseWriter, _ *http.Request) {
	schedule := h.table.Schedule()
	rows := make([]bracketRow, 0, len(schedule))
	for _, s := range schedule {
		row := bracketRow{Lower: s.Lower, Rate: s.Rate, Base: s.Base}
		if !math.IsInf(s.Upper, 1) {
			upper := s.Upper
			row.Upper = &upper
		}
		rows = append(rows, row)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Records handles GET /api/v1/records with optional ic filter and pagination.
func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "record store not configured", nil)
		return
	}
	var (
		rows []record.Record
		err  error
	)
	if ic := strings.TrimSpace(r.URL.Query().Get("ic")); ic != "" {
		rows, err = h.records.ListByIC(r.Context(), ic)
	} else {
		rows, err = h.records.ReadAll(r.Context())
	}
	if errors.Is(err, record.ErrNoRecords) {
		common.WriteError(w, common.NewAppError("NO_RECORDS", "no tax records found", http.StatusNotFound, err))
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("list records")
		common.WriteError(w, err)
		return
	}

	page, perPage := common.ParsePagination(r, defaultRecordsPerPage)
	if perPage > maxRecordsPerPage {
		perPage = maxRecordsPerPage
	}
	start := len(rows)
	if page-1 < (len(rows)+perPage-1)/perPage {
		start = (page - 1) * perPage
	}
	end := start + perPage
	if end > len(rows) {
		end = len(rows)
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       rows[start:end],
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: len(rows)},
	})
}

// amountText returns the literal text of a JSON number or the contents of a JSON string.
func amountText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func invalidInput(err error) *common.AppError {
	appErr := common.NewAppError("INVALID_INPUT", "income and relief must be non-negative numbers", http.StatusUnprocessableEntity, err)
	var inputErr *tax.InvalidInputError
	if errors.As(err, &inputErr) {
		appErr.Details = map[string]any{"field": inputErr.Field, "value": inputErr.Value}
		return appErr
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		appErr.Details = map[string]any{"field": strings.ToLower(verrs[0].Field()), "rule": verrs[0].Tag()}
	}
	return appErr
}
