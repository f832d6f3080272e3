package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/reportchain/internal/chains"
	"github.com/pendergraft/reportchain/internal/classifier"
	"github.com/pendergraft/reportchain/internal/evidence"
	"github.com/pendergraft/reportchain/internal/ledger"
	"github.com/pendergraft/reportchain/internal/observability/metrics"
	"github.com/pendergraft/reportchain/internal/storage"
	"github.com/pendergraft/reportchain/internal/validation"
)

// Classifier produces a verdict for a URL.
type Classifier interface {
	Classify(ctx context.Context, url string) (*classifier.Verdict, error)
}

// Ledger defines the marketplace operations needed by the reports domain.
type Ledger interface {
	SubmitReport(ctx context.Context, domain string, accused common.Address, evidence [32]byte, isAccusation bool) (*chains.Receipt, error)
	TotalReports(ctx context.Context) (uint64, error)
	GetReport(ctx context.Context, index uint64) (*ledger.Record, error)
	SetStatus(ctx context.Context, index uint64, status uint8) (*chains.Receipt, error)
	IsWalletBanned(ctx context.Context, wallet common.Address) (bool, error)
	IsDomainBanned(ctx context.Context, domain string) (bool, error)
}

// Rewards registers self-reports for reward accrual.
type Rewards interface {
	RegisterReport(ctx context.Context, reporter common.Address, evidence [32]byte) (*chains.Receipt, error)
}

// Journal defines the submission journal operations needed by the reports domain.
type Journal interface {
	ReserveSubmission(ctx context.Context, s *storage.Submission) (*storage.Submission, error)
	TransitionSubmission(ctx context.Context, key string, from []storage.SubmissionState, update storage.SubmissionUpdate) error
	GetSubmission(ctx context.Context, key string) (*storage.Submission, error)
}

type service struct {
	classifier Classifier
	ledger     Ledger
	rewards    Rewards
	journal    Journal
	selfScheme evidence.Scheme
	logger     *slog.Logger
}

// NewService creates a new report service. selfScheme is the fingerprint
// scheme for self-reports; accusations always use keccak256.
func NewService(cls Classifier, led Ledger, rw Rewards, journal Journal, selfScheme evidence.Scheme, logger *slog.Logger) *service {
	return &service{
		classifier: cls,
		ledger:     led,
		rewards:    rw,
		journal:    journal,
		selfScheme: selfScheme,
		logger:     logger,
	}
}

// SubmitAccusation classifies url and, unless the verdict is benign, records
// an accusation against the wallet on the ledger.
func (s *service) SubmitAccusation(ctx context.Context, req AccusationRequest) (*AccusationResult, error) {
	kind := string(storage.KindAccusation)

	if err := evidence.ValidateURL(req.URL); err != nil {
		metrics.RecordSubmission(kind, "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	accused, err := parseWallet("accusedWallet", req.AccusedWallet)
	if err != nil {
		metrics.RecordSubmission(kind, "invalid")
		return nil, err
	}

	verdict, err := s.classifier.Classify(ctx, req.URL)
	if err != nil {
		metrics.RecordClassification("unavailable")
		metrics.RecordSubmission(kind, "classifier_unavailable")
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}

	if verdict.IsBenign() {
		metrics.RecordClassification("benign")
		metrics.RecordSubmission(kind, "skipped_benign")
		return &AccusationResult{
			BlockchainSubmission: false,
			Message:              "Report classified as benign - no blockchain submission required",
			Verdict:              verdict,
		}, nil
	}
	metrics.RecordClassification("flagged")

	fp, err := evidence.Encode(evidence.SchemeKeccak, req.URL)
	if err != nil {
		metrics.RecordSubmission(kind, "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sub, err := s.reserve(ctx, storage.KindAccusation, req.URL, fp, accused)
	if err != nil {
		metrics.RecordSubmission(kind, outcome(err))
		return nil, err
	}

	receipt, err := s.ledger.SubmitReport(ctx, req.URL, accused, fp, true)
	if err != nil {
		err = s.abandon(ctx, sub.Key, err)
		metrics.RecordSubmission(kind, outcome(err))
		return nil, err
	}

	s.transition(ctx, sub.Key, []storage.SubmissionState{storage.StatePending}, storage.SubmissionUpdate{
		State:         storage.StateCommitted,
		LedgerTxHash:  receipt.TxHash,
		LedgerBlock:   receipt.BlockNumber,
		LedgerGasUsed: receipt.GasUsed,
	})
	metrics.RecordSubmission(kind, "committed")

	return &AccusationResult{
		BlockchainSubmission: true,
		Message:              "Report submitted successfully",
		Verdict:              verdict,
		EvidenceHash:         fp.Hex(),
		Receipt:              receipt,
		Bans:                 s.lookupBans(context.WithoutCancel(ctx), accused, req.URL),
		SubmissionID:         sub.ID,
	}, nil
}

// SubmitSelfReport records a report with no accused party and registers the
// reporter for the reward. A reward failure after the ledger accepted the
// report yields *PartialFailureError.
func (s *service) SubmitSelfReport(ctx context.Context, req SelfReportRequest) (*SelfReportResult, error) {
	kind := string(storage.KindSelfReport)

	reporter, err := parseWallet("reporterWallet", req.ReporterWallet)
	if err != nil {
		metrics.RecordSubmission(kind, "invalid")
		return nil, err
	}
	fp, err := evidence.Encode(s.selfScheme, req.URL)
	if err != nil {
		metrics.RecordSubmission(kind, "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sub, err := s.reserve(ctx, storage.KindSelfReport, req.URL, fp, reporter)
	if err != nil {
		metrics.RecordSubmission(kind, outcome(err))
		return nil, err
	}

	ledgerReceipt, err := s.ledger.SubmitReport(ctx, req.URL, common.Address{}, fp, false)
	if err != nil {
		err = s.abandon(ctx, sub.Key, err)
		metrics.RecordSubmission(kind, outcome(err))
		return nil, err
	}

	// The report is on the ledger. From here on nothing may resubmit it, and
	// the reward step runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	s.transition(ctx, sub.Key, []storage.SubmissionState{storage.StatePending}, storage.SubmissionUpdate{
		State:         storage.StateRewardPending,
		LedgerTxHash:  ledgerReceipt.TxHash,
		LedgerBlock:   ledgerReceipt.BlockNumber,
		LedgerGasUsed: ledgerReceipt.GasUsed,
	})

	rewardReceipt, err := s.registerReward(ctx, sub.Key, reporter, fp, ledgerReceipt)
	if err != nil {
		metrics.RecordSubmission(kind, outcome(err))
		return nil, err
	}
	metrics.RecordSubmission(kind, "committed")

	return &SelfReportResult{
		Message:       "Report submitted successfully",
		EvidenceHash:  fp.Hex(),
		Scheme:        s.selfScheme,
		LedgerReceipt: ledgerReceipt,
		RewardReceipt: rewardReceipt,
		SubmissionID:  sub.ID,
	}, nil
}

// RetryReward re-runs only the reward registration for a self-report whose
// ledger submission is committed and whose reward failed.
func (s *service) RetryReward(ctx context.Context, req RetryRewardRequest) (*SelfReportResult, error) {
	fp, err := evidence.ParseFingerprint(req.EvidenceHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	reporter, err := parseWallet("reporterWallet", req.ReporterWallet)
	if err != nil {
		return nil, err
	}

	key := storage.SubmissionKey(storage.KindSelfReport, fp.Hex(), reporter.Hex())
	sub, err := s.journal.GetSubmission(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: no self-report for %s from %s", ErrNotFound, fp.Hex(), reporter.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	if sub.State != storage.StatePartial {
		return nil, fmt.Errorf("%w: submission is %s, only %s can retry the reward", ErrInvalidTransition, sub.State, storage.StatePartial)
	}

	err = s.journal.TransitionSubmission(ctx, key, []storage.SubmissionState{storage.StatePartial}, storage.SubmissionUpdate{
		State: storage.StateRewardPending,
	})
	if errors.Is(err, storage.ErrStateConflict) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err != nil {
		return nil, fmt.Errorf("updating journal: %w", err)
	}

	ledgerReceipt := &chains.Receipt{
		TxHash:      sub.LedgerTxHash,
		BlockNumber: sub.LedgerBlock,
		GasUsed:     sub.LedgerGasUsed,
	}
	rewardReceipt, err := s.registerReward(context.WithoutCancel(ctx), key, reporter, fp, ledgerReceipt)
	if err != nil {
		metrics.RecordSubmission("reward_retry", outcome(err))
		return nil, err
	}
	metrics.RecordSubmission("reward_retry", "committed")

	return &SelfReportResult{
		Message:       "Reward registered",
		EvidenceHash:  fp.Hex(),
		LedgerReceipt: ledgerReceipt,
		RewardReceipt: rewardReceipt,
		SubmissionID:  sub.ID,
	}, nil
}

// VerifyReport moves a Reported report to Verified.
func (s *service) VerifyReport(ctx context.Context, id uint64) (*StatusChangeResult, error) {
	return s.changeStatus(ctx, id, StatusVerified)
}

// RejectReport moves a Reported report to Rejected.
func (s *service) RejectReport(ctx context.Context, id uint64) (*StatusChangeResult, error) {
	return s.changeStatus(ctx, id, StatusRejected)
}

func (s *service) changeStatus(ctx context.Context, id uint64, target ReportStatus) (*StatusChangeResult, error) {
	rec, err := s.ledger.GetReport(ctx, id)
	if err != nil {
		err = mapChainErr(err)
		metrics.RecordStatusChange(target.String(), outcome(err))
		return nil, err
	}
	current := ReportStatus(rec.Status)
	if _, ok := current.Label(); !ok {
		metrics.RecordStatusChange(target.String(), "corrupt")
		return nil, fmt.Errorf("%w: report %d has status ordinal %d", ErrCorruptData, id, rec.Status)
	}
	if current != StatusReported {
		metrics.RecordStatusChange(target.String(), "invalid_transition")
		return nil, fmt.Errorf("%w: report %d is already %s", ErrInvalidTransition, id, current)
	}

	receipt, err := s.ledger.SetStatus(ctx, id, uint8(target))
	if err != nil {
		err = mapChainErr(err)
		metrics.RecordStatusChange(target.String(), outcome(err))
		return nil, err
	}
	metrics.RecordStatusChange(target.String(), "committed")

	return &StatusChangeResult{
		Message:  fmt.Sprintf("Report %d marked as %s", id, target),
		ReportID: id,
		Previous: current,
		Status:   target,
		Receipt:  receipt,
	}, nil
}

// BanStatus reads the ledger's ban flags. Unlike the informational lookup
// after an accusation, failures here are returned.
func (s *service) BanStatus(ctx context.Context, wallet, domain string) (*BanStatus, error) {
	if wallet == "" && domain == "" {
		return nil, fmt.Errorf("%w: wallet or domain is required", ErrInvalidInput)
	}

	bans := &BanStatus{Domain: domain}
	if wallet != "" {
		addr, err := parseWallet("wallet", wallet)
		if err != nil {
			return nil, err
		}
		banned, err := s.ledger.IsWalletBanned(ctx, addr)
		if err != nil {
			return nil, mapChainErr(err)
		}
		bans.Wallet = addr.Hex()
		bans.WalletBanned = &banned
	}
	if domain != "" {
		banned, err := s.ledger.IsDomainBanned(ctx, domain)
		if err != nil {
			return nil, mapChainErr(err)
		}
		bans.DomainBanned = &banned
	}
	return bans, nil
}

// lookupBans never fails; a failed lookup leaves its flag nil.
func (s *service) lookupBans(ctx context.Context, wallet common.Address, domain string) *BanStatus {
	bans := &BanStatus{Wallet: wallet.Hex(), Domain: domain}
	if banned, err := s.ledger.IsWalletBanned(ctx, wallet); err != nil {
		s.logger.WarnContext(ctx, "wallet ban lookup failed", "wallet", wallet.Hex(), "error", err)
	} else {
		bans.WalletBanned = &banned
	}
	if banned, err := s.ledger.IsDomainBanned(ctx, domain); err != nil {
		s.logger.WarnContext(ctx, "domain ban lookup failed", "domain", domain, "error", err)
	} else {
		bans.DomainBanned = &banned
	}
	s.logger.InfoContext(ctx, "accused subject ban status",
		"wallet", wallet.Hex(),
		"wallet_banned", bans.WalletBanned,
		"domain", domain,
		"domain_banned", bans.DomainBanned,
	)
	return bans
}

func (s *service) registerReward(ctx context.Context, key string, reporter common.Address, fp evidence.Fingerprint, ledgerReceipt *chains.Receipt) (*chains.Receipt, error) {
	from := []storage.SubmissionState{storage.StateRewardPending}

	rewardReceipt, err := s.rewards.RegisterReport(ctx, reporter, fp)
	if err != nil {
		partial := &PartialFailureError{
			LedgerReceipt: ledgerReceipt,
			EvidenceHash:  fp.Hex(),
			Reporter:      reporter.Hex(),
			Err:           err,
		}
		var pending *chains.ReceiptPendingError
		if errors.As(err, &pending) {
			partial.RewardTxHash = pending.TxHash
		}
		s.logger.ErrorContext(ctx, "reward registration failed after ledger commit",
			"key", key,
			"ledger_tx", ledgerReceipt.TxHash,
			"reward_tx", partial.RewardTxHash,
			"error", err,
		)
		s.transition(ctx, key, from, storage.SubmissionUpdate{
			State:        storage.StatePartial,
			RewardTxHash: partial.RewardTxHash,
			LastError:    err.Error(),
		})
		return nil, partial
	}

	s.transition(ctx, key, from, storage.SubmissionUpdate{
		State:        storage.StateCommitted,
		RewardTxHash: rewardReceipt.TxHash,
	})
	return rewardReceipt, nil
}

// reserve claims the idempotency key for a submission.
func (s *service) reserve(ctx context.Context, kind storage.SubmissionKind, url string, fp evidence.Fingerprint, wallet common.Address) (*storage.Submission, error) {
	sub, err := s.journal.ReserveSubmission(ctx, &storage.Submission{
		Key:          storage.SubmissionKey(kind, fp.Hex(), wallet.Hex()),
		Kind:         kind,
		URL:          url,
		Wallet:       wallet.Hex(),
		EvidenceHash: fp.Hex(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, &DuplicateSubmissionError{Existing: sub}
	}
	if err != nil {
		return nil, fmt.Errorf("reserving submission: %w", err)
	}
	return sub, nil
}

// abandon records a failed ledger submission. A transaction that was sent
// but not confirmed leaves the key in unknown so it cannot be reserved again
// until an operator reconciles it.
func (s *service) abandon(ctx context.Context, key string, cause error) error {
	err := mapChainErr(cause)
	update := storage.SubmissionUpdate{State: storage.StateFailed, LastError: cause.Error()}
	var pending *SubmissionPendingError
	if errors.As(err, &pending) {
		update.State = storage.StateUnknown
		update.LedgerTxHash = pending.TxHash
	}
	s.transition(context.WithoutCancel(ctx), key, []storage.SubmissionState{storage.StatePending}, update)
	return err
}

// transition writes a journal state change. The ledger outcome has already
// happened, so a journal failure is logged rather than returned.
func (s *service) transition(ctx context.Context, key string, from []storage.SubmissionState, update storage.SubmissionUpdate) {
	if err := s.journal.TransitionSubmission(ctx, key, from, update); err != nil {
		s.logger.ErrorContext(ctx, "journal transition failed",
			"key", key,
			"from", from,
			"to", update.State,
			"error", err,
		)
	}
}

func parseWallet(field, s string) (common.Address, error) {
	if err := validation.ValidateWallet(s); err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", ErrInvalidInput, field, err)
	}
	return common.HexToAddress(s), nil
}

// outcome is the metrics label for a workflow error.
func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, ErrSubmissionPending):
		return "pending"
	case errors.Is(err, ErrPartialFailure):
		return "partial"
	case errors.Is(err, ErrLedgerRejected):
		return "rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrCorruptData):
		return "corrupt"
	default:
		return "error"
	}
}
