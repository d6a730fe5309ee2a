// Package l3detect owns Layer 3 (Ball Events) of the rally data model.
//
// Responsibilities: independent candidate event frames from the ball
// track alone (horizontal direction reversals) and from the ball track
// combined with every tracked person's wrists (contact proximity).
//
// Dependency rule: L3 may depend on L1 and geometry. It never sees pose
// proposals; reconciling detectors is Layer 4's job.
package l3detect
