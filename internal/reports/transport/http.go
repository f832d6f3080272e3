// Package transport provides HTTP handlers for the reports domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/reportchain/internal/reports/domain"
	"github.com/pendergraft/reportchain/internal/validation"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	ndjsonType       = "application/x-ndjson"
)

// Service defines the report service interface for HTTP transport.
type Service interface {
	SubmitAccusation(ctx context.Context, req domain.AccusationRequest) (*domain.AccusationResult, error)
	SubmitSelfReport(ctx context.Context, req domain.SelfReportRequest) (*domain.SelfReportResult, error)
	RetryReward(ctx context.Context, req domain.RetryRewardRequest) (*domain.SelfReportResult, error)
	VerifyReport(ctx context.Context, id uint64) (*domain.StatusChangeResult, error)
	RejectReport(ctx context.Context, id uint64) (*domain.StatusChangeResult, error)
	ListReports(ctx context.Context, page domain.Page) (*domain.ReportList, error)
	Reports(ctx context.Context, from, to uint64) iter.Seq2[domain.ProjectedReport, error]
	TotalReports(ctx context.Context) (uint64, error)
	GetReport(ctx context.Context, id uint64) (*domain.ProjectedReport, error)
	BanStatus(ctx context.Context, wallet, domain string) (*domain.BanStatus, error)
}

// Handler handles HTTP requests for reports.
type Handler struct {
	svc Service
}

// NewHandler creates a new reports HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterReadRoutes registers read-only report routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

// RegisterSubmitRoutes registers the public submission routes.
func (h *Handler) RegisterSubmitRoutes(r chi.Router) {
	r.Post("/", h.handleSubmitAccusation)
	r.Post("/self", h.handleSubmitSelfReport)
}

// RegisterWriteRoutes registers reviewer routes (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/self/reward", h.handleRetryReward)
	r.Post("/{id}/verify", h.handleVerify)
	r.Post("/{id}/reject", h.handleReject)
}

// RegisterLegacyReadRoutes registers GET /reports, which returns the whole
// ledger in one response.
func (h *Handler) RegisterLegacyReadRoutes(r chi.Router) {
	r.Get("/reports", h.handleLegacyList)
}

// RegisterLegacySubmitRoutes registers the unversioned submission paths
// still used by the browser frontend.
func (h *Handler) RegisterLegacySubmitRoutes(r chi.Router) {
	r.Post("/submitReport", h.handleSubmitAccusation)
	r.Post("/submitUserReport", h.handleSubmitSelfReport)
}

// RegisterLegacyWriteRoutes registers POST /verifyReport (auth required).
func (h *Handler) RegisterLegacyWriteRoutes(r chi.Router) {
	r.Post("/verifyReport", h.handleLegacyVerify)
}

// HandleBans serves GET /bans?wallet=&domain=.
func (h *Handler) HandleBans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bans, err := h.svc.BanStatus(r.Context(), q.Get("wallet"), q.Get("domain"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bans)
}

func (h *Handler) handleSubmitAccusation(w http.ResponseWriter, r *http.Request) {
	var req AccusationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.SubmitAccusation(r.Context(), domain.AccusationRequest{
		URL:           req.URL,
		AccusedWallet: req.AccusedWallet,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.BlockchainSubmission {
		status = http.StatusCreated
	}
	writeJSON(w, status, toAccusationResponse(result))
}

func (h *Handler) handleSubmitSelfReport(w http.ResponseWriter, r *http.Request) {
	var req SelfReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.SubmitSelfReport(r.Context(), domain.SelfReportRequest{
		URL:            req.URL,
		ReporterWallet: req.wallet(),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSelfReportResponse(result))
}

func (h *Handler) handleRetryReward(w http.ResponseWriter, r *http.Request) {
	var req RetryRewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.RetryReward(r.Context(), domain.RetryRewardRequest{
		EvidenceHash:   req.EvidenceHash,
		ReporterWallet: req.ReporterWallet,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSelfReportResponse(result))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	if r.Header.Get("Accept") == ndjsonType {
		h.streamReports(w, r, page)
		return
	}

	list, err := h.svc.ListReports(r.Context(), page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(list))
}

// handleLegacyList returns every report in one response.
func (h *Handler) handleLegacyList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListReports(r.Context(), domain.Page{})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(list))
}

// streamReports writes one JSON report per line as the ledger is read. An
// error after the first line ends the stream with an error object.
func (h *Handler) streamReports(w http.ResponseWriter, r *http.Request, page domain.Page) {
	total, err := h.svc.TotalReports(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	from := min(page.Offset, total)
	to := total
	if page.Limit < total-from {
		to = from + page.Limit
	}

	w.Header().Set("Content-Type", ndjsonType)
	w.Header().Set("X-Total-Reports", strconv.FormatUint(total, 10))
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	rc := http.NewResponseController(w)
	for report, err := range h.svc.Reports(r.Context(), from, to) {
		if err != nil {
			_ = enc.Encode(map[string]any{"error": errorBody(err)})
			return
		}
		if err := enc.Encode(toReportResponse(report)); err != nil {
			return
		}
		_ = rc.Flush()
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateReportID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	report, err := h.svc.GetReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(*report))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, chi.URLParam(r, "id"), h.svc.VerifyReport)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, chi.URLParam(r, "id"), h.svc.RejectReport)
}

func (h *Handler) handleLegacyVerify(w http.ResponseWriter, r *http.Request) {
	var req LegacyVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ReportID == nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "reportId is required")
		return
	}
	h.changeStatus(w, r, req.ReportID.String(), h.svc.VerifyReport)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, rawID string, op func(context.Context, uint64) (*domain.StatusChangeResult, error)) {
	id, err := validation.ValidateReportID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := op(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusChangeResponse{
		Message:         result.Message,
		ReportID:        result.ReportID,
		Status:          result.Status.String(),
		PreviousStatus:  result.Previous.String(),
		ReceiptResponse: toReceipt(result.Receipt),
	})
}

func toListResponse(list *domain.ReportList) ReportListResponse {
	resp := ReportListResponse{
		TotalReports: strconv.FormatUint(list.Total, 10),
		Offset:       list.Offset,
		Reports:      make([]ReportResponse, len(list.Reports)),
	}
	for i, report := range list.Reports {
		resp.Reports[i] = toReportResponse(report)
	}
	return resp
}

func parsePage(w http.ResponseWriter, r *http.Request) (domain.Page, bool) {
	page := domain.Page{Limit: defaultListLimit}
	q := r.URL.Query()
	if o := q.Get("offset"); o != "" {
		offset, err := strconv.ParseUint(o, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "offset must be a non-negative integer")
			return page, false
		}
		page.Offset = offset
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.ParseUint(l, 10, 64)
		if err != nil || limit == 0 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 1000")
			return page, false
		}
		page.Limit = limit
	}
	return page, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps domain errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var partial *domain.PartialFailureError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusMultiStatus, PartialFailureResponse{
			Error:        errorBody(err),
			Ledger:       toReceipt(partial.LedgerReceipt),
			EvidenceHash: partial.EvidenceHash,
			Reporter:     partial.Reporter,
			RewardTxHash: partial.RewardTxHash,
		})
		return
	}

	var pending *domain.SubmissionPendingError
	if errors.As(err, &pending) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"error":  errorBody(err),
			"txHash": pending.TxHash,
		})
		return
	}

	var dup *domain.DuplicateSubmissionError
	if errors.As(err, &dup) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      errorBody(err),
			"submission": toSubmissionResponse(dup.Existing),
		})
		return
	}

	writeJSON(w, statusFor(err), map[string]any{"error": errorBody(err)})
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_REQUEST"},
	{domain.ErrClassificationUnavailable, http.StatusServiceUnavailable, "CLASSIFIER_UNAVAILABLE"},
	{domain.ErrLedgerRejected, http.StatusUnprocessableEntity, "LEDGER_REJECTED"},
	{domain.ErrLedgerUnavailable, http.StatusBadGateway, "LEDGER_UNAVAILABLE"},
	{domain.ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrPartialFailure, http.StatusMultiStatus, "PARTIAL_FAILURE"},
	{domain.ErrCorruptData, http.StatusBadGateway, "CORRUPT_DATA"},
	{domain.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{domain.ErrDuplicateSubmission, http.StatusConflict, "DUPLICATE_SUBMISSION"},
	{domain.ErrSubmissionPending, http.StatusAccepted, "SUBMISSION_PENDING"},
}

func statusFor(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func errorBody(err error) ErrorBody {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return ErrorBody{Code: e.code, Message: err.Error()}
		}
	}
	return ErrorBody{Code: "INTERNAL_ERROR", Message: "Internal server error"}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes the standard error envelope. It is shared with the auth
// middleware so every error has the same shape.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, code, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": ErrorBody{Code: code, Message: message},
	})
}
