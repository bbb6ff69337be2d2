// Package policy integrates the Open Policy Agent (OPA) engine with polis-dao,
// evaluating Rego admission rules before a proposal is accepted.
//
// Admission sits in front of the governance engine: it can refuse a proposal
// (for example, payouts above a cap, or proposals from non-members) but never
// changes voting or finalization. Rules are loaded from a file and can be
// hot-reloaded while the process runs.
package policy
