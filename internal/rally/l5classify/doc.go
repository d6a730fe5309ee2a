// Package l5classify owns Layer 5 (Classification) of the rally data
// model.
//
// Responsibilities: labelling each fused event forehand, backhand, no_hit
// or uncertain through one EventClassifier interface. Two strategies are
// provided: a numeric elbow-trend heuristic and an external multimodal
// model reached over HTTP. Every failure path degrades to an uncertain
// result for that event; nothing here aborts a run.
//
// Dependency rule: L5 may depend on L1 through L4 and geometry.
package l5classify
