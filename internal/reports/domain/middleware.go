package domain

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pendergraft/reportchain/internal/auth"
)

// reportService is the interface required for the service middlewares.
type reportService interface {
	SubmitAccusation(ctx context.Context, req AccusationRequest) (*AccusationResult, error)
	SubmitSelfReport(ctx context.Context, req SelfReportRequest) (*SelfReportResult, error)
	RetryReward(ctx context.Context, req RetryRewardRequest) (*SelfReportResult, error)
	VerifyReport(ctx context.Context, id uint64) (*StatusChangeResult, error)
	RejectReport(ctx context.Context, id uint64) (*StatusChangeResult, error)
	ListReports(ctx context.Context, page Page) (*ReportList, error)
	Reports(ctx context.Context, from, to uint64) iter.Seq2[ProjectedReport, error]
	TotalReports(ctx context.Context) (uint64, error)
	GetReport(ctx context.Context, id uint64) (*ProjectedReport, error)
	BanStatus(ctx context.Context, wallet, domain string) (*BanStatus, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(reportService) *loggingMiddleware {
	return func(next reportService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   reportService
	logger *slog.Logger
}

func (m *loggingMiddleware) SubmitAccusation(ctx context.Context, req AccusationRequest) (*AccusationResult, error) {
	start := time.Now()
	result, err := m.next.SubmitAccusation(ctx, req)
	attrs := []any{
		"url", req.URL,
		"accusedWallet", req.AccusedWallet,
		"duration", time.Since(start),
		"error", err,
	}
	if result != nil {
		attrs = append(attrs, "prediction", result.Verdict.Prediction, "submitted", result.BlockchainSubmission)
		if result.Receipt != nil {
			attrs = append(attrs, "txHash", result.Receipt.TxHash)
		}
	}
	m.logger.InfoContext(ctx, "SubmitAccusation", attrs...)
	return result, err
}

func (m *loggingMiddleware) SubmitSelfReport(ctx context.Context, req SelfReportRequest) (*SelfReportResult, error) {
	start := time.Now()
	result, err := m.next.SubmitSelfReport(ctx, req)
	attrs := []any{
		"url", req.URL,
		"reporterWallet", req.ReporterWallet,
		"duration", time.Since(start),
		"error", err,
	}
	if result != nil {
		attrs = append(attrs, "evidenceHash", result.EvidenceHash, "txHash", result.LedgerReceipt.TxHash)
	}
	m.logger.InfoContext(ctx, "SubmitSelfReport", attrs...)
	return result, err
}

func (m *loggingMiddleware) RetryReward(ctx context.Context, req RetryRewardRequest) (*SelfReportResult, error) {
	start := time.Now()
	result, err := m.next.RetryReward(ctx, req)
	m.logger.InfoContext(ctx, "RetryReward",
		"evidenceHash", req.EvidenceHash,
		"reporterWallet", req.ReporterWallet,
		"actor", auth.Actor(ctx),
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) VerifyReport(ctx context.Context, id uint64) (*StatusChangeResult, error) {
	start := time.Now()
	result, err := m.next.VerifyReport(ctx, id)
	m.logger.InfoContext(ctx, "VerifyReport",
		"reportId", id,
		"actor", auth.Actor(ctx),
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) RejectReport(ctx context.Context, id uint64) (*StatusChangeResult, error) {
	start := time.Now()
	result, err := m.next.RejectReport(ctx, id)
	m.logger.InfoContext(ctx, "RejectReport",
		"reportId", id,
		"actor", auth.Actor(ctx),
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) ListReports(ctx context.Context, page Page) (*ReportList, error) {
	start := time.Now()
	result, err := m.next.ListReports(ctx, page)
	attrs := []any{
		"offset", page.Offset,
		"limit", page.Limit,
		"duration", time.Since(start),
		"error", err,
	}
	if result != nil {
		attrs = append(attrs, "total", result.Total, "returned", len(result.Reports))
	}
	m.logger.DebugContext(ctx, "ListReports", attrs...)
	return result, err
}

func (m *loggingMiddleware) Reports(ctx context.Context, from, to uint64) iter.Seq2[ProjectedReport, error] {
	m.logger.DebugContext(ctx, "Reports", "from", from, "to", to)
	return m.next.Reports(ctx, from, to)
}

func (m *loggingMiddleware) TotalReports(ctx context.Context) (uint64, error) {
	start := time.Now()
	total, err := m.next.TotalReports(ctx)
	m.logger.DebugContext(ctx, "TotalReports",
		"total", total,
		"duration", time.Since(start),
		"error", err,
	)
	return total, err
}

func (m *loggingMiddleware) GetReport(ctx context.Context, id uint64) (*ProjectedReport, error) {
	start := time.Now()
	result, err := m.next.GetReport(ctx, id)
	m.logger.DebugContext(ctx, "GetReport",
		"reportId", id,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) BanStatus(ctx context.Context, wallet, domain string) (*BanStatus, error) {
	start := time.Now()
	result, err := m.next.BanStatus(ctx, wallet, domain)
	m.logger.DebugContext(ctx, "BanStatus",
		"wallet", wallet,
		"domain", domain,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

// TracingMiddleware returns a service middleware that opens a span per
// operation.
func TracingMiddleware(tracer trace.Tracer) func(reportService) *tracingMiddleware {
	return func(next reportService) *tracingMiddleware {
		return &tracingMiddleware{next: next, tracer: tracer}
	}
}

type tracingMiddleware struct {
	next   reportService
	tracer trace.Tracer
}

func (m *tracingMiddleware) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "reports."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (m *tracingMiddleware) SubmitAccusation(ctx context.Context, req AccusationRequest) (*AccusationResult, error) {
	ctx, span := m.start(ctx, "SubmitAccusation", attribute.String("report.url", req.URL))
	result, err := m.next.SubmitAccusation(ctx, req)
	if result != nil {
		span.SetAttributes(
			attribute.String("report.prediction", result.Verdict.Prediction),
			attribute.Bool("report.submitted", result.BlockchainSubmission),
		)
	}
	finish(span, err)
	return result, err
}

func (m *tracingMiddleware) SubmitSelfReport(ctx context.Context, req SelfReportRequest) (*SelfReportResult, error) {
	ctx, span := m.start(ctx, "SubmitSelfReport", attribute.String("report.url", req.URL))
	result, err := m.next.SubmitSelfReport(ctx, req)
	finish(span, err)
	return result, err
}

func (m *tracingMiddleware) RetryReward(ctx context.Context, req RetryRewardRequest) (*SelfReportResult, error) {
	ctx, span := m.start(ctx, "RetryReward", attribute.String("report.evidence_hash", req.EvidenceHash))
	result, err := m.next.RetryReward(ctx, req)
	finish(span, err)
	return result, err
}

func (m *tracingMiddleware) VerifyReport(ctx context.Context, id uint64) (*StatusChangeResult, error) {
	ctx, span := m.start(ctx, "VerifyReport", attribute.Int64("report.id", int64(id)))
	result, err := m.next.VerifyReport(ctx, id)
	finish(span, err)
	return result, err
}

func (m *tracingMiddleware) RejectReport(ctx context.Context, id uint64) (*StatusChangeResult, error) {
	ctx, span := m.start(ctx, "RejectReport", attribute.Int64("report.id", int64(id)))
	result, err := m.next.RejectReport(ctx, id)
	finish(span, err)
	return result, err
}

func (m *tracingMiddleware) ListReports(ctx context.Context, page Page) (*ReportList, error) {
	ctx, span := m.start(ctx, "ListReports",
		attribute.Int64("page.offset", int64(page.Offset)),
		attribute.Int64("page.limit", int64(page.Limit)),
	)
	result, err := m.next.ListReports(ctx, page)
	if result != nil {
		span.SetAttributes(attribute.Int64("reports.total", int64(result.Total)))
	}
	finish(span, err)
	return result, err
}

// Reports is not traced; the span would outlive the call.
func (m *tracingMiddleware) Reports(ctx context.Context, from, to uint64) iter.Seq2[ProjectedReport, error] {
	return m.next.Reports(ctx, from, to)
}

func (m *tracingMiddleware) TotalReports(ctx context.Context) (uint64, error) {
	ctx, span := m.start(ctx, "TotalReports")
	total, err := m.next.TotalReports(ctx)
	finish(span, err)
	return total, err
}

func (m *tracingMiddleware) GetReport(ctx context.Context, id uint64) (*ProjectedReport, error) {
	ctx, span := m.start(ctx, "GetReport", attribute.Int64("report.id", int64(id)))
	result, err := m.next.GetReport(ctx, id)
	finish(span, err)
	return result, err
}

func (m *tracingMiddleware) BanStatus(ctx context.Context, wallet, domain string) (*BanStatus, error) {
	ctx, span := m.start(ctx, "BanStatus")
	result, err := m.next.BanStatus(ctx, wallet, domain)
	finish(span, err)
	return result, err
}
