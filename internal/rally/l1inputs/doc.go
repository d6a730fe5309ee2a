// Package l1inputs owns Layer 1 (Inputs) of the rally data model.
//
// Responsibilities: the read-only snapshots produced upstream by the
// ball-tracking and pose-estimation services (TrackPoint, PoseFrame,
// VideoMeta), their JSON loaders, and per-frame lookup indexes.
//
// Dependency rule: L1 depends on nothing else in internal/rally.
// Every other layer treats these values as immutable for the lifetime
// of a run.
package l1inputs
