// Package domain defines the core governance types for polis-dao.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. It owns:
//
// - PolicyTable: amount tiers mapped to vote requirements
// - Proposal: tallies, deadline and the status state machine
// - The collaborator contracts (stores, council registry, transfer sink) that
//   infrastructure packages implement
//
// Orchestration of calls (voting, finalization, effect dispatch) lives in
// package engine. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
