package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/parsers"
	"interunit-loan-recon/internal/reconciler"
	"interunit-loan-recon/internal/reporter"
	"interunit-loan-recon/internal/store"
	"interunit-loan-recon/pkg/errors"

	"github.com/go-chi/chi/v5"
)

type runRequest struct {
	Lender   string `json:"lender" validate:"required"`
	Borrower string `json:"borrower" validate:"required,nefield=Lender"`
	Month    string `json:"month" validate:"required"`
	Year     int    `json:"year" validate:"required,min=1900,max=9999"`
}

type reviewRequest struct {
	ReviewedBy string `json:"reviewed_by" validate:"required,max=128"`
}

type listQuery struct {
	Lender   string `form:"lender" validate:"required_with=Borrower"`
	Borrower string `form:"borrower" validate:"required_with=Lender"`
	Month    string `form:"month" validate:"required_with=Year"`
	Year     int    `form:"year" validate:"required_with=Month"`
	PairID   string `form:"pair_id" validate:"omitempty,max=64"`
	Limit    int    `form:"limit" validate:"min=0,max=10000"`
}

type importRequest struct {
	Company      string `form:"company" validate:"required"`
	Counterparty string `form:"counterparty" validate:"required,nefield=Company"`
	Month        string `form:"month" validate:"required"`
	Year         int    `form:"year" validate:"required,min=1900,max=9999"`
	PairID       string `form:"pair_id" validate:"omitempty,uuid"`
}

type importResponse struct {
	PairID        string   `json:"pair_id"`
	Imported      int      `json:"imported"`
	Skipped       int      `json:"skipped"`
	Continuations int      `json:"continuations"`
	ParseErrors   int      `json:"parse_errors"`
	SampleErrors  []string `json:"sample_errors,omitempty"`
}

func (s *Server) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ValidationError(errors.CodeInvalidFormat, "body", "", err).
			WithSuggestion("Send a JSON object with the documented fields")
	}
	return s.validate.Struct(v)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.service.RunMatching(r.Context(), req.Lender, req.Borrower, req.Month, req.Year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	batch, err := s.service.RunAllScopes(r.Context())
	if batch == nil {
		s.writeError(w, r, err)
		return
	}
	// Per-scope failures are reported inside the batch.
	writeJSON(w, http.StatusOK, batch)
}

// handleConfig shows the tolerances and thresholds runs are made with.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matching":  s.service.GetMatchingConfig(),
		"reconcile": s.service.GetConfiguration(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session := reconciler.SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      session.ID,
		"started": session.Started,
		"history": session.History(),
	})
}

func (s *Server) handleCompanyPairs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PairFilter{
		Unreconciled: q.Get("unreconciled") == "true",
		Matched:      q.Get("matched") == "true",
	}
	pairs, err := s.service.CompanyPairs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pairs == nil {
		pairs = []models.PairPeriod{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (s *Server) handlePairIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.service.PairIDs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleRunPair(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RunPair(r.Context(), chi.URLParam(r, "pair_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePairEntries(w http.ResponseWriter, r *http.Request) {
	pairID := chi.URLParam(r, "pair_id")
	entries, err := s.service.PairEntries(r.Context(), pairID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pair_id": pairID,
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetEntry(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, s.service.AcceptMatch)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, s.service.RejectMatch)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, review func(context.Context, string, string) error) {
	var req reviewRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	uid := chi.URLParam(r, "uid")
	if err := review(r.Context(), uid, req.ReviewedBy); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.service.GetEntry(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		s.writeError(w, r, errors.ValidationError(errors.CodeMissingField, "confirm", "", nil).
			WithSuggestion("Pass confirm=true to delete every ledger entry"))
		return
	}
	if err := s.service.Truncate(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.ResetAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (s *Server) handleResetScope(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.service.ResetScope(r.Context(), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scope": scope, "reset": n})
}

var contentTypes = map[reporter.OutputFormat]string{
	reporter.FormatConsole: "text/plain; charset=utf-8",
	reporter.FormatJSON:    "application/json",
	reporter.FormatCSV:     "text/csv",
	reporter.FormatXLSX:    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	config := reporter.DefaultReportConfig()
	if f := r.URL.Query().Get("format"); f != "" {
		config.Format = reporter.OutputFormat(strings.ToLower(f))
	} else {
		config.Format = reporter.FormatJSON
	}
	generator, err := reporter.NewReportGenerator(config)
	if err != nil {
		s.writeError(w, r, errors.ValidationError(errors.CodeInvalidFormat, "format", config.Format, err))
		return
	}

	report, err := s.service.Report(r.Context(), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := generator.GenerateReport(report, &buf); err != nil {
		s.writeError(w, r, errors.InternalError(errors.CodeProcessingError, "report", err))
		return
	}
	w.Header().Set("Content-Type", contentTypes[config.Format])
	if config.Format.Binary() || config.Format == reporter.FormatCSV {
		w.Header().Set("Content-Disposition",
			`attachment; filename="`+strings.ReplaceAll(scope.Key(), "|", "_")+"."+string(config.Format)+`"`)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		s.writeError(w, r, errors.ValidationError(errors.CodeInvalidFormat, "upload", "", err).
			WithSuggestion("Send a multipart form with a ledger CSV in the file field"))
		return
	}

	req := importRequest{
		Company:      r.FormValue("company"),
		Counterparty: r.FormValue("counterparty"),
		Month:        r.FormValue("month"),
		PairID:       r.FormValue("pair_id"),
	}
	if y := r.FormValue("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			s.writeError(w, r, errors.ValidationError(errors.CodeInvalidDate, "year", y, err))
			return
		}
		req.Year = year
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	period, err := models.NewPeriod(req.Month, req.Year)
	if err != nil {
		s.writeError(w, r, errors.ValidationError(errors.CodeInvalidDate, "month", req.Month, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errors.ValidationError(errors.CodeMissingField, "file", "", err))
		return
	}
	defer file.Close()

	entries, stats, err := s.parser.ParseReader(r.Context(), header.Filename, file, parsers.ImportOptions{
		Company:      req.Company,
		Counterparty: req.Counterparty,
		Period:       period,
		PairID:       req.PairID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.service.Ingest(r.Context(), entries)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := importResponse{
		Imported:      n,
		Skipped:       stats.Skipped,
		Continuations: stats.Continuations,
		ParseErrors:   stats.ErrorCount,
		SampleErrors:  stats.GetSampleErrors(5),
	}
	if len(entries) > 0 {
		resp.PairID = entries[0].PairID
	}
	writeJSON(w, http.StatusCreated, resp)
}

type lister func(context.Context, reconciler.Selector) ([]*models.LedgerEntry, error)

func (s *Server) listHandler(name string, list lister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sel, err := s.selectorFromQuery(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		entries, err := list(r.Context(), sel)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = []*models.LedgerEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"listing": name,
			"count":   len(entries),
			"entries": entries,
		})
	}
}

func (s *Server) selectorFromQuery(r *http.Request) (reconciler.Selector, error) {
	q := r.URL.Query()
	lq := listQuery{
		Lender:   q.Get("lender"),
		Borrower: q.Get("borrower"),
		Month:    q.Get("month"),
		PairID:   q.Get("pair_id"),
	}
	// Routes under /pairs/{pair_id} take the id from the path.
	if id := chi.URLParam(r, "pair_id"); id != "" {
		lq.PairID = id
	}
	for key, dst := range map[string]*int{"year": &lq.Year, "limit": &lq.Limit} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return reconciler.Selector{}, errors.ValidationError(errors.CodeInvalidData, key, v, err)
			}
			*dst = n
		}
	}
	if err := s.validate.Struct(lq); err != nil {
		return reconciler.Selector{}, err
	}

	sel := reconciler.Selector{PairID: lq.PairID, Limit: lq.Limit}
	if lq.Lender != "" {
		pair := models.CompanyPair{Lender: lq.Lender, Borrower: lq.Borrower}
		if err := pair.Validate(); err != nil {
			return reconciler.Selector{}, errors.ValidationError(errors.CodeInvalidData, "borrower", lq.Borrower, err)
		}
		sel.Pair = &pair
	}
	if lq.Month != "" {
		period, err := models.NewPeriod(lq.Month, lq.Year)
		if err != nil {
			return reconciler.Selector{}, errors.ValidationError(errors.CodeInvalidDate, "month", lq.Month, err)
		}
		sel.Period = &period
	}
	return sel, nil
}

func scopeFromPath(r *http.Request) (models.Scope, error) {
	yearParam := chi.URLParam(r, "year")
	year, err := strconv.Atoi(yearParam)
	if err != nil {
		return models.Scope{}, errors.ValidationError(errors.CodeInvalidDate, "year", yearParam, err)
	}
	scope, err := models.NewScope(chi.URLParam(r, "lender"), chi.URLParam(r, "borrower"), chi.URLParam(r, "month"), year)
	if err != nil {
		return models.Scope{}, errors.ValidationError(errors.CodeInvalidData, "scope", r.URL.Path, err)
	}
	return scope, nil
}
