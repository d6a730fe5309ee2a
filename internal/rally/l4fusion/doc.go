// Package l4fusion owns Layer 4 (Events) of the rally data model.
//
// Responsibilities: reconciling the pose, trajectory and contact
// candidate frames into one deduplicated DetectionEvent per swing, sizing
// each event's window from local ball speed and the matched pose
// proposal.
//
// Dependency rule: L4 may depend on L1, L2 and L3. Fusion is a pure
// function of its inputs; identical inputs produce identical events.
package l4fusion
