package domain

import (
	"context"
	"fmt"
	"iter"

	"github.com/pendergraft/reportchain/internal/evidence"
	"github.com/pendergraft/reportchain/internal/ledger"
	"github.com/pendergraft/reportchain/internal/observability/metrics"
)

// maxPrealloc caps the slice reserved for a page. The total comes from the
// node, so an unbounded page may not be sized from it.
const maxPrealloc = 1000

// ListReports projects one page of the ledger. The total is read once and
// bounds the page; reports appended while the page is read are not included.
func (s *service) ListReports(ctx context.Context, page Page) (*ReportList, error) {
	total, err := s.ledger.TotalReports(ctx)
	if err != nil {
		return nil, mapChainErr(err)
	}

	from, to := window(page, total)
	list := &ReportList{
		Total:   total,
		Offset:  from,
		Reports: make([]ProjectedReport, 0, min(to-from, maxPrealloc)),
	}
	for report, err := range s.Reports(ctx, from, to) {
		if err != nil {
			return nil, err
		}
		list.Reports = append(list.Reports, report)
	}
	metrics.RecordProjected(len(list.Reports))
	return list, nil
}

// Reports yields the projected reports at indices [from, to) in ledger
// order. Nothing is read until iteration starts and every iteration reads
// the ledger again. The sequence ends after the first error.
func (s *service) Reports(ctx context.Context, from, to uint64) iter.Seq2[ProjectedReport, error] {
	return func(yield func(ProjectedReport, error) bool) {
		for i := from; i < to; i++ {
			if err := ctx.Err(); err != nil {
				yield(ProjectedReport{}, err)
				return
			}
			rec, err := s.ledger.GetReport(ctx, i)
			if err != nil {
				yield(ProjectedReport{}, mapChainErr(err))
				return
			}
			report, err := project(rec)
			if !yield(report, err) || err != nil {
				return
			}
		}
	}
}

// TotalReports returns the number of reports on the ledger.
func (s *service) TotalReports(ctx context.Context) (uint64, error) {
	total, err := s.ledger.TotalReports(ctx)
	if err != nil {
		return 0, mapChainErr(err)
	}
	return total, nil
}

// GetReport projects a single ledger record.
func (s *service) GetReport(ctx context.Context, id uint64) (*ProjectedReport, error) {
	rec, err := s.ledger.GetReport(ctx, id)
	if err != nil {
		return nil, mapChainErr(err)
	}
	report, err := project(rec)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func project(rec *ledger.Record) (ProjectedReport, error) {
	label, ok := ReportStatus(rec.Status).Label()
	if !ok {
		return ProjectedReport{}, fmt.Errorf("%w: report %d has status ordinal %d", ErrCorruptData, rec.Index, rec.Status)
	}
	return ProjectedReport{
		ID:            rec.Index,
		Domain:        rec.Domain,
		AccusedWallet: rec.AccusedWallet.Hex(),
		Reporter:      rec.Reporter.Hex(),
		EvidenceHash:  evidence.Fingerprint(rec.EvidenceHash).Hex(),
		Timestamp:     rec.Timestamp,
		Status:        label,
	}, nil
}

func window(page Page, total uint64) (from, to uint64) {
	from = min(page.Offset, total)
	to = total
	if page.Limit > 0 && page.Limit < total-from {
		to = from + page.Limit
	}
	return from, to
}
