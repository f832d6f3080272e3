// Package transport provides HTTP request/response types for the reports domain.
package transport

import (
	"encoding/json"
	"strconv"

	"github.com/pendergraft/reportchain/internal/chains"
	"github.com/pendergraft/reportchain/internal/reports/domain"
	"github.com/pendergraft/reportchain/internal/storage"
)

// AccusationRequest is the HTTP request body for an accusation.
type AccusationRequest struct {
	URL           string `json:"url"`
	AccusedWallet string `json:"accusedWallet"`
}

// SelfReportRequest is the HTTP request body for a self-report. The legacy
// endpoint names the wallet userWallet.
type SelfReportRequest struct {
	URL            string `json:"url"`
	ReporterWallet string `json:"reporterWallet"`
	UserWallet     string `json:"userWallet,omitempty"`
}

func (r SelfReportRequest) wallet() string {
	if r.ReporterWallet != "" {
		return r.ReporterWallet
	}
	return r.UserWallet
}

// RetryRewardRequest is the HTTP request body for a reward retry.
type RetryRewardRequest struct {
	EvidenceHash   string `json:"evidenceHash"`
	ReporterWallet string `json:"reporterWallet"`
}

// LegacyVerifyRequest is the body of POST /verifyReport.
type LegacyVerifyRequest struct {
	ReportID *json.Number `json:"reportId"`
}

// ReceiptResponse is a transaction receipt. Block and gas are decimal
// strings, as the browser frontend expects.
type ReceiptResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber string `json:"blockNumber"`
	GasUsed     string `json:"gasUsed"`
	Fee         string `json:"fee,omitempty"`
}

func toReceipt(r *chains.Receipt) *ReceiptResponse {
	if r == nil {
		return nil
	}
	resp := &ReceiptResponse{
		TxHash:      r.TxHash,
		BlockNumber: strconv.FormatUint(r.BlockNumber, 10),
		GasUsed:     strconv.FormatUint(r.GasUsed, 10),
	}
	if r.EffectiveGasPrice != nil {
		resp.Fee = r.Fee().String()
	}
	return resp
}

// AccusationResponse is the HTTP response for an accusation. The receipt
// fields are inlined at the top level.
type AccusationResponse struct {
	Message              string                     `json:"message"`
	Prediction           string                     `json:"prediction"`
	Metadata             map[string]json.RawMessage `json:"metadata,omitempty"`
	BlockchainSubmission bool                       `json:"blockchainSubmission"`
	EvidenceHash         string                     `json:"evidenceHash,omitempty"`
	*ReceiptResponse
	Bans         *domain.BanStatus `json:"bans,omitempty"`
	SubmissionID string            `json:"submissionId,omitempty"`
}

func toAccusationResponse(r *domain.AccusationResult) AccusationResponse {
	return AccusationResponse{
		Message:              r.Message,
		Prediction:           r.Verdict.Prediction,
		Metadata:             r.Verdict.Metadata,
		BlockchainSubmission: r.BlockchainSubmission,
		EvidenceHash:         r.EvidenceHash,
		ReceiptResponse:      toReceipt(r.Receipt),
		Bans:                 r.Bans,
		SubmissionID:         r.SubmissionID,
	}
}

// SelfReportResponse is the HTTP response for a committed self-report. The
// ledger receipt is inlined; the reward receipt is nested.
type SelfReportResponse struct {
	Message              string `json:"message"`
	BlockchainSubmission bool   `json:"blockchainSubmission"`
	EvidenceHash         string `json:"evidenceHash"`
	Scheme               string `json:"scheme,omitempty"`
	*ReceiptResponse
	Reward       *ReceiptResponse `json:"reward"`
	SubmissionID string           `json:"submissionId,omitempty"`
}

func toSelfReportResponse(r *domain.SelfReportResult) SelfReportResponse {
	return SelfReportResponse{
		Message:              r.Message,
		BlockchainSubmission: true,
		EvidenceHash:         r.EvidenceHash,
		Scheme:               string(r.Scheme),
		ReceiptResponse:      toReceipt(r.LedgerReceipt),
		Reward:               toReceipt(r.RewardReceipt),
		SubmissionID:         r.SubmissionID,
	}
}

// ReportResponse is a projected report.
type ReportResponse struct {
	ID            uint64 `json:"id"`
	Domain        string `json:"domain"`
	AccusedWallet string `json:"accusedWallet"`
	Reporter      string `json:"reporter"`
	EvidenceHash  string `json:"evidenceHash"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
}

func toReportResponse(r domain.ProjectedReport) ReportResponse {
	return ReportResponse{
		ID:            r.ID,
		Domain:        r.Domain,
		AccusedWallet: r.AccusedWallet,
		Reporter:      r.Reporter,
		EvidenceHash:  r.EvidenceHash,
		Timestamp:     strconv.FormatUint(r.Timestamp, 10),
		Status:        r.Status,
	}
}

// ReportListResponse is the HTTP response for a listing.
type ReportListResponse struct {
	TotalReports string           `json:"totalReports"`
	Offset       uint64           `json:"offset"`
	Reports      []ReportResponse `json:"reports"`
}

// StatusChangeResponse is the HTTP response for verify and reject.
type StatusChangeResponse struct {
	Message        string `json:"message"`
	ReportID       uint64 `json:"reportId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
	*ReceiptResponse
}

// PartialFailureResponse is the 207 body of a self-report whose reward failed.
type PartialFailureResponse struct {
	Error        ErrorBody        `json:"error"`
	Ledger       *ReceiptResponse `json:"ledger"`
	EvidenceHash string           `json:"evidenceHash"`
	Reporter     string           `json:"reporter"`
	RewardTxHash string           `json:"rewardTxHash,omitempty"`
}

// SubmissionResponse describes a journal entry.
type SubmissionResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	EvidenceHash string `json:"evidenceHash"`
	Wallet       string `json:"wallet"`
	LedgerTxHash string `json:"ledgerTxHash,omitempty"`
	RewardTxHash string `json:"rewardTxHash,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

func toSubmissionResponse(s *storage.Submission) *SubmissionResponse {
	if s == nil {
		return nil
	}
	return &SubmissionResponse{
		ID:           s.ID,
		Kind:         string(s.Kind),
		State:        string(s.State),
		EvidenceHash: s.EvidenceHash,
		Wallet:       s.Wallet,
		LedgerTxHash: s.LedgerTxHash,
		RewardTxHash: s.RewardTxHash,
		UpdatedAt:    s.UpdatedAt,
	}
}

// ErrorBody is the error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
