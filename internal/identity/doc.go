// Package identity manages persons and the assignment of detected faces to
// them.
//
// Names are normalized before they are stored and matched case-insensitively.
// Deleting a person, directly, through pruning or through a merge, returns
// its faces to the pending review queue. Photo counts are always recomputed
// from the faces table rather than adjusted incrementally.
package identity
