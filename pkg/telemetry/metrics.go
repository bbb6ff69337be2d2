package telemetry

import (
	"context"
	"sync"

	"github.com/polisai/polis-dao/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce            sync.Once
	metricsInitErr         error
	proposalsCreated       metric.Int64Counter
	votesCast              metric.Int64Counter
	votesDropped           metric.Int64Counter
	proposalsFinalized     metric.Int64Counter
	transfersInitiated     metric.Int64Counter
	transferAmountRecorded metric.Float64Counter
)

// RecordProposalCreated counts a newly admitted proposal.
func RecordProposalCreated(ctx context.Context, kind string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	proposalsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("proposal.kind", kind)))
}

// RecordVote counts a recorded vote. Late votes that were dropped in favour of
// finalization are counted separately.
func RecordVote(ctx context.Context, choice domain.Vote, dropped bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	if dropped {
		votesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("vote.choice", string(choice))))
		return
	}
	votesCast.Add(ctx, 1, metric.WithAttributes(attribute.String("vote.choice", string(choice))))
}

// RecordFinalized counts a proposal reaching a terminal status.
func RecordFinalized(ctx context.Context, status domain.ProposalStatus, kind string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	proposalsFinalized.Add(ctx, 1, metric.WithAttributes(
		attribute.String("proposal.status", string(status)),
		attribute.String("proposal.kind", kind),
	))
}

// RecordTransfer counts an initiated payout and its amount.
func RecordTransfer(ctx context.Context, amount domain.Amount) {
	if err := ensureMetrics(); err != nil {
		return
	}
	transfersInitiated.Add(ctx, 1)
	transferAmountRecorded.Add(ctx, float64(amount))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("polis.dao")

		proposalsCreated, metricsInitErr = meter.Int64Counter(
			"dao.proposals.created_total",
			metric.WithDescription("Proposals admitted, partitioned by kind"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		votesCast, metricsInitErr = meter.Int64Counter(
			"dao.votes.cast_total",
			metric.WithDescription("Votes recorded on open proposals"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		votesDropped, metricsInitErr = meter.Int64Counter(
			"dao.votes.dropped_total",
			metric.WithDescription("Votes submitted after the deadline and not recorded"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		proposalsFinalized, metricsInitErr = meter.Int64Counter(
			"dao.proposals.finalized_total",
			metric.WithDescription("Proposals finalized, partitioned by outcome and kind"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		transfersInitiated, metricsInitErr = meter.Int64Counter(
			"dao.transfers.initiated_total",
			metric.WithDescription("Payout transfers handed to the transfer sink"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		transferAmountRecorded, metricsInitErr = meter.Float64Counter(
			"dao.transfers.amount_total",
			metric.WithDescription("Sum of initiated payout amounts"),
			metric.WithUnit("{unit}"),
		)
	})

	return metricsInitErr
}

// RecordFinalizeEvent adds a finalization event to the span.
func RecordFinalizeEvent(span trace.Span, status domain.ProposalStatus, effect string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("dao.proposal.status", string(status)),
	}
	if effect != "" {
		attrs = append(attrs, attribute.String("dao.proposal.effect", effect))
	}

	span.AddEvent("dao.proposal.finalized", trace.WithAttributes(attrs...))
}
