// Package engine implements council governance over a domain.Store.
//
// Architecture:
//
// engine.go   - Engine construction, options, settings cache and read queries
// propose.go  - AddProposal admission and JoinCouncil
// vote.go     - Vote, Finalize and the shared finalization step with its effects
//
// Every mutating call runs inside one store unit of work, so a proposal's new
// status and the effect it triggers (council removal, payout, settings change)
// commit together. Calls are serialized by the engine; the caller identity and
// clock come from domain.Call on every call.
package engine
