package telemetry

import (
	"strconv"

	"github.com/polisai/polis-dao/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordAdmissionDecision annotates the span with the admission policy outcome.
func RecordAdmissionDecision(span trace.Span, allowed bool, reason string) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Bool("dao.admission.allowed", allowed))
	if reason != "" {
		span.SetAttributes(attribute.String("dao.admission.reason", reason))
	}
	if !allowed {
		span.AddEvent("dao.admission.denied")
	}
}

// RecordProposal attaches the proposal's identifying fields and tallies to the span.
func RecordProposal(span trace.Span, p *domain.Proposal) {
	if p == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("dao.proposal.id", strconv.FormatUint(uint64(p.ID), 10)),
		attribute.String("dao.proposal.status", string(p.Status)),
		attribute.Int64("dao.proposal.vote_yes", int64(p.VoteYes)),
		attribute.Int64("dao.proposal.vote_no", int64(p.VoteNo)),
	}
	if p.Kind != nil {
		attrs = append(attrs, attribute.String("dao.proposal.kind", p.Kind.Name()))
	}
	span.SetAttributes(attrs...)
}
