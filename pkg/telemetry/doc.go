// Package telemetry wires OpenTelemetry exporters and meters for polis-dao.
//
// It centralises trace provider setup, records governance counters (proposals
// created, votes cast, outcomes, transfers), exposes a Prometheus collector
// over current governance state, and offers helpers that attach proposal and
// admission metadata to spans so operators can follow a proposal from
// creation to finalization.
package telemetry
