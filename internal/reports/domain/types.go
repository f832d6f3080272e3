// Package domain contains the report submission workflows and the ledger
// status projection.
package domain

import (
	"fmt"

	"github.com/pendergraft/reportchain/internal/chains"
	"github.com/pendergraft/reportchain/internal/classifier"
	"github.com/pendergraft/reportchain/internal/evidence"
)

// ReportStatus is the ledger's review state for a report.
type ReportStatus uint8

const (
	StatusReported ReportStatus = iota
	StatusVerified
	StatusRejected
)

var statusLabels = [...]string{
	StatusReported: "Reported",
	StatusVerified: "Verified",
	StatusRejected: "Rejected",
}

// Label returns the external name of s. ok is false for ordinals the ledger
// should never produce.
func (s ReportStatus) Label() (label string, ok bool) {
	if int(s) >= len(statusLabels) {
		return "", false
	}
	return statusLabels[s], true
}

func (s ReportStatus) String() string {
	if label, ok := s.Label(); ok {
		return label
	}
	return fmt.Sprintf("ReportStatus(%d)", uint8(s))
}

// ParseStatus returns the status with the given label.
func ParseStatus(label string) (ReportStatus, error) {
	for i, l := range statusLabels {
		if l == label {
			return ReportStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, label)
}

// AccusationRequest names a URL and the wallet it is accused of serving.
type AccusationRequest struct {
	URL           string
	AccusedWallet string
}

// AccusationResult is the outcome of a successful accusation workflow.
// BlockchainSubmission is false when the oracle judged the URL benign; in
// that case only Message and Verdict are set.
type AccusationResult struct {
	BlockchainSubmission bool
	Message              string
	Verdict              *classifier.Verdict
	EvidenceHash         string
	Receipt              *chains.Receipt
	Bans                 *BanStatus
	SubmissionID         string
}

// SelfReportRequest names a URL reported by the wallet claiming the reward.
type SelfReportRequest struct {
	URL            string
	ReporterWallet string
}

// SelfReportResult is the outcome of a fully committed self-report.
type SelfReportResult struct {
	Message       string
	EvidenceHash  string
	Scheme        evidence.Scheme
	LedgerReceipt *chains.Receipt
	RewardReceipt *chains.Receipt
	SubmissionID  string
}

// RetryRewardRequest identifies a partially committed self-report.
type RetryRewardRequest struct {
	EvidenceHash   string
	ReporterWallet string
}

// BanStatus is the ledger's ban view of a wallet and a domain. A nil flag
// means the lookup failed or was not requested.
type BanStatus struct {
	Wallet       string `json:"wallet,omitempty"`
	WalletBanned *bool  `json:"walletBanned,omitempty"`
	Domain       string `json:"domain,omitempty"`
	DomainBanned *bool  `json:"domainBanned,omitempty"`
}

// StatusChangeResult is the outcome of a verification or rejection.
type StatusChangeResult struct {
	Message  string
	ReportID uint64
	Previous ReportStatus
	Status   ReportStatus
	Receipt  *chains.Receipt
}

// ProjectedReport is a ledger record in its client-facing form.
type ProjectedReport struct {
	ID            uint64
	Domain        string
	AccusedWallet string
	Reporter      string
	EvidenceHash  string
	Timestamp     uint64
	Status        string
}

// ReportList is one page of the projection.
type ReportList struct {
	Total   uint64
	Offset  uint64
	Reports []ProjectedReport
}

// Page selects a window of ledger indices. Limit zero means to the end.
type Page struct {
	Offset uint64
	Limit  uint64
}
