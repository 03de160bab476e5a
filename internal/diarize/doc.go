// Package diarize attributes transcript segments to meeting participants.
// It matches recognized speaker names against the participant roster and a
// persistent store of past corrections, using containment and edit-distance
// similarity, and falls back to numbered placeholder labels when no match
// clears the thresholds.
package diarize
