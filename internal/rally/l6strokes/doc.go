// Package l6strokes owns Layer 6 (Strokes) of the rally data model.
//
// Responsibilities: attributing each classified event to the subject or
// an opponent, assembling the final provenance-tagged Stroke records and
// folding them into a run summary.
//
// Dependency rule: L6 may depend on L1 through L5. Strokes are the only
// rally values that are persisted.
package l6strokes
