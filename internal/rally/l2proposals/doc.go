// Package l2proposals owns Layer 2 (Proposals) of the rally data model.
//
// Responsibilities: turning the tracked subject's pose sequence into
// candidate stroke windows, each with a provisional forehand/backhand
// vote and a 0-100 form score.
//
// Dependency rule: L2 may depend on L1 and geometry. Proposals are
// per-run values consumed by fusion and assembly, never persisted.
package l2proposals
