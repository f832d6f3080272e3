package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/reportchain/internal/chains"
	"github.com/pendergraft/reportchain/internal/classifier"
	"github.com/pendergraft/reportchain/internal/reports/domain"
	"github.com/pendergraft/reportchain/internal/storage"
)

// mockService implements Service for testing
type mockService struct {
	reports       []domain.ProjectedReport
	accusation    *domain.AccusationResult
	selfReport    *domain.SelfReportResult
	err           error
	lastAccusal   domain.AccusationRequest
	lastSelf      domain.SelfReportRequest
	lastPage      domain.Page
	verified      []uint64
	rejected      []uint64
	lastBanWallet string
}

func (m *mockService) SubmitAccusation(ctx context.Context, req domain.AccusationRequest) (*domain.AccusationResult, error) {
	m.lastAccusal = req
	return m.accusation, m.err
}

func (m *mockService) SubmitSelfReport(ctx context.Context, req domain.SelfReportRequest) (*domain.SelfReportResult, error) {
	m.lastSelf = req
	return m.selfReport, m.err
}

func (m *mockService) RetryReward(ctx context.Context, req domain.RetryRewardRequest) (*domain.SelfReportResult, error) {
	return m.selfReport, m.err
}

func (m *mockService) VerifyReport(ctx context.Context, id uint64) (*domain.StatusChangeResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.verified = append(m.verified, id)
	return &domain.StatusChangeResult{
		Message:  fmt.Sprintf("Report %d marked as Verified", id),
		ReportID: id,
		Previous: domain.StatusReported,
		Status:   domain.StatusVerified,
		Receipt:  &chains.Receipt{TxHash: "0xstatus"},
	}, nil
}

func (m *mockService) RejectReport(ctx context.Context, id uint64) (*domain.StatusChangeResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.rejected = append(m.rejected, id)
	return &domain.StatusChangeResult{ReportID: id, Previous: domain.StatusReported, Status: domain.StatusRejected}, nil
}

func (m *mockService) ListReports(ctx context.Context, page domain.Page) (*domain.ReportList, error) {
	m.lastPage = page
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ReportList{Total: uint64(len(m.reports)), Offset: page.Offset, Reports: m.reports}, nil
}

func (m *mockService) Reports(ctx context.Context, from, to uint64) iter.Seq2[domain.ProjectedReport, error] {
	return func(yield func(domain.ProjectedReport, error) bool) {
		for i := from; i < to; i++ {
			if i >= uint64(len(m.reports)) {
				yield(domain.ProjectedReport{}, domain.ErrCorruptData)
				return
			}
			if !yield(m.reports[i], nil) {
				return
			}
		}
	}
}

func (m *mockService) TotalReports(ctx context.Context) (uint64, error) {
	return uint64(len(m.reports)), m.err
}

func (m *mockService) GetReport(ctx context.Context, id uint64) (*domain.ProjectedReport, error) {
	if id >= uint64(len(m.reports)) {
		return nil, domain.ErrNotFound
	}
	return &m.reports[id], nil
}

func (m *mockService) BanStatus(ctx context.Context, wallet, d string) (*domain.BanStatus, error) {
	m.lastBanWallet = wallet
	if m.err != nil {
		return nil, m.err
	}
	banned := true
	return &domain.BanStatus{Wallet: wallet, WalletBanned: &banned}, nil
}

func setupRouter(svc Service) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc)
	r.Route("/api/v1/reports", func(r chi.Router) {
		h.RegisterReadRoutes(r)
		h.RegisterSubmitRoutes(r)
		h.RegisterWriteRoutes(r)
	})
	r.Get("/api/v1/bans", h.HandleBans)
	h.RegisterLegacyReadRoutes(r)
	h.RegisterLegacySubmitRoutes(r)
	h.RegisterLegacyWriteRoutes(r)
	return r
}

func threeReports() []domain.ProjectedReport {
	labels := []string{"Reported", "Verified", "Rejected"}
	out := make([]domain.ProjectedReport, len(labels))
	for i, l := range labels {
		out[i] = domain.ProjectedReport{ID: uint64(i), Domain: "http://bad.example", Timestamp: 1700000000, Status: l}
	}
	return out
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandler_SubmitAccusation(t *testing.T) {
	t.Run("flagged", func(t *testing.T) {
		svc := &mockService{accusation: &domain.AccusationResult{
			BlockchainSubmission: true,
			Message:              "Report submitted successfully",
			Verdict:              &classifier.Verdict{Prediction: "phishing"},
			EvidenceHash:         "0xabc",
			Receipt:              &chains.Receipt{TxHash: "0xfeed", BlockNumber: 42, GasUsed: 52000, EffectiveGasPrice: big.NewInt(2_000_000_000)},
		}}
		router := setupRouter(svc)

		rec := do(t, router, "POST", "/api/v1/reports", `{"url":"http://bad.example","accusedWallet":"0x3333333333333333333333333333333333333333"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "http://bad.example", svc.lastAccusal.URL)
		resp := decode(t, rec)
		assert.Equal(t, true, resp["blockchainSubmission"])
		assert.Equal(t, "phishing", resp["prediction"])
		assert.Equal(t, "0xfeed", resp["txHash"])
		assert.Equal(t, "42", resp["blockNumber"])
		assert.Equal(t, "52000", resp["gasUsed"])
		assert.Equal(t, "0.000104", resp["fee"])
	})

	t.Run("benign", func(t *testing.T) {
		svc := &mockService{accusation: &domain.AccusationResult{
			BlockchainSubmission: false,
			Message:              "Report classified as benign - no blockchain submission required",
			Verdict:              &classifier.Verdict{Prediction: "benign"},
		}}
		router := setupRouter(svc)

		rec := do(t, router, "POST", "/submitReport", `{"url":"http://safe.example","accusedWallet":"0x3333333333333333333333333333333333333333"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, false, resp["blockchainSubmission"])
		assert.Equal(t, "benign", resp["prediction"])
		assert.NotContains(t, resp, "txHash")
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := do(t, setupRouter(&mockService{}), "POST", "/api/v1/reports", `{"url":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: url is required", domain.ErrInvalidInput), http.StatusBadRequest, "INVALID_REQUEST"},
		{domain.ErrClassificationUnavailable, http.StatusServiceUnavailable, "CLASSIFIER_UNAVAILABLE"},
		{domain.ErrLedgerRejected, http.StatusUnprocessableEntity, "LEDGER_REJECTED"},
		{domain.ErrLedgerUnavailable, http.StatusBadGateway, "LEDGER_UNAVAILABLE"},
		{domain.ErrCorruptData, http.StatusBadGateway, "CORRUPT_DATA"},
		{domain.ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
		{domain.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{fmt.Errorf("wrapped: %w", context.Canceled), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			router := setupRouter(&mockService{err: tt.err})
			rec := do(t, router, "POST", "/api/v1/reports", `{"url":"http://bad.example"}`)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, tt.code, resp["error"].(map[string]any)["code"])
		})
	}
}

func TestHandler_SubmitSelfReport(t *testing.T) {
	svc := &mockService{selfReport: &domain.SelfReportResult{
		Message:       "Report submitted successfully",
		EvidenceHash:  "0x68747470",
		Scheme:        "ascii-padded",
		LedgerReceipt: &chains.Receipt{TxHash: "0xledger", BlockNumber: 7, GasUsed: 90000},
		RewardReceipt: &chains.Receipt{TxHash: "0xreward", BlockNumber: 8, GasUsed: 41000},
	}}
	router := setupRouter(svc)

	t.Run("versioned", func(t *testing.T) {
		rec := do(t, router, "POST", "/api/v1/reports/self", `{"url":"http://scam.example","reporterWallet":"0x4444444444444444444444444444444444444444"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "0xledger", resp["txHash"])
		assert.Equal(t, "0xreward", resp["reward"].(map[string]any)["txHash"])
		assert.Equal(t, "ascii-padded", resp["scheme"])
	})

	t.Run("legacy userWallet", func(t *testing.T) {
		rec := do(t, router, "POST", "/submitUserReport", `{"url":"http://scam.example","userWallet":"0x5555555555555555555555555555555555555555"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "0x5555555555555555555555555555555555555555", svc.lastSelf.ReporterWallet)
	})
}

func TestHandler_SelfReportPartialFailure(t *testing.T) {
	svc := &mockService{err: &domain.PartialFailureError{
		LedgerReceipt: &chains.Receipt{TxHash: "0xledger", BlockNumber: 7, GasUsed: 90000},
		EvidenceHash:  "0xabc",
		Reporter:      "0x4444444444444444444444444444444444444444",
		Err:           chains.ErrRejected,
	}}
	router := setupRouter(svc)

	rec := do(t, router, "POST", "/api/v1/reports/self", `{"url":"http://scam.example","reporterWallet":"0x4444444444444444444444444444444444444444"}`)

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "PARTIAL_FAILURE", resp["error"].(map[string]any)["code"])
	assert.Equal(t, "0xledger", resp["ledger"].(map[string]any)["txHash"])
	assert.Equal(t, "0xabc", resp["evidenceHash"])
}

func TestHandler_SubmissionPendingAndDuplicate(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		router := setupRouter(&mockService{err: &domain.SubmissionPendingError{TxHash: "0xabc", Err: context.DeadlineExceeded}})
		rec := do(t, router, "POST", "/api/v1/reports", `{}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "0xabc", decode(t, rec)["txHash"])
	})

	t.Run("duplicate", func(t *testing.T) {
		router := setupRouter(&mockService{err: &domain.DuplicateSubmissionError{Existing: &storage.Submission{
			ID: "sub-1", Key: "accusation:0xab:0x33", Kind: storage.KindAccusation, State: storage.StateCommitted, LedgerTxHash: "0xfeed",
		}}})
		rec := do(t, router, "POST", "/api/v1/reports", `{}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		sub := decode(t, rec)["submission"].(map[string]any)
		assert.Equal(t, "committed", sub["state"])
		assert.Equal(t, "0xfeed", sub["ledgerTxHash"])
	})
}

func TestHandler_ListReports(t *testing.T) {
	svc := &mockService{reports: threeReports()}
	router := setupRouter(svc)

	t.Run("versioned with paging", func(t *testing.T) {
		rec := do(t, router, "GET", "/api/v1/reports?offset=1&limit=2", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.Page{Offset: 1, Limit: 2}, svc.lastPage)
	})

	t.Run("default limit", func(t *testing.T) {
		do(t, router, "GET", "/api/v1/reports", "")
		assert.Equal(t, domain.Page{Limit: defaultListLimit}, svc.lastPage)
	})

	t.Run("legacy returns everything", func(t *testing.T) {
		rec := do(t, router, "GET", "/reports", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.Page{}, svc.lastPage)

		var resp ReportListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "3", resp.TotalReports)
		require.Len(t, resp.Reports, 3)
		for i, want := range []string{"Reported", "Verified", "Rejected"} {
			assert.Equal(t, uint64(i), resp.Reports[i].ID)
			assert.Equal(t, want, resp.Reports[i].Status)
		}
		assert.Equal(t, "1700000000", resp.Reports[0].Timestamp)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := do(t, router, "GET", "/api/v1/reports?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = do(t, router, "GET", "/api/v1/reports?offset=-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_StreamReports(t *testing.T) {
	router := setupRouter(&mockService{reports: threeReports()})

	req := httptest.NewRequest("GET", "/api/v1/reports?offset=1", nil)
	req.Header.Set("Accept", ndjsonType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ndjsonType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "3", rec.Header().Get("X-Total-Reports"))

	var statuses []string
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		var r ReportResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []string{"Verified", "Rejected"}, statuses)
}

func TestHandler_GetReport(t *testing.T) {
	router := setupRouter(&mockService{reports: threeReports()})

	rec := do(t, router, "GET", "/api/v1/reports/2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Rejected", decode(t, rec)["status"])

	rec = do(t, router, "GET", "/api/v1/reports/3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "GET", "/api/v1/reports/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Verify(t *testing.T) {
	svc := &mockService{}
	router := setupRouter(svc)

	rec := do(t, router, "POST", "/api/v1/reports/4/verify", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "Report 4 marked as Verified", resp["message"])
	assert.Equal(t, "0xstatus", resp["txHash"])
	assert.Equal(t, "Verified", resp["status"])

	rec = do(t, router, "POST", "/api/v1/reports/5/reject", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{5}, svc.rejected)

	t.Run("legacy", func(t *testing.T) {
		rec := do(t, router, "POST", "/verifyReport", `{"reportId": 9}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []uint64{4, 9}, svc.verified)

		rec = do(t, router, "POST", "/verifyReport", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "reportId is required")

		rec = do(t, router, "POST", "/verifyReport", `{"reportId": -1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Bans(t *testing.T) {
	svc := &mockService{}
	router := setupRouter(svc)

	rec := do(t, router, "GET", "/api/v1/bans?wallet=0x3333333333333333333333333333333333333333", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["walletBanned"])
	assert.Equal(t, "0x3333333333333333333333333333333333333333", svc.lastBanWallet)
}
