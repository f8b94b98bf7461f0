// Package tracker implements the tidy-up wizard.
//
// A Session walks through a fixed set of phases: a photo is attached and its
// objects detected, the user confirms an ordered selection, and each object is
// timed from start to finish as it is put away. Every finished object becomes
// a Placement. The sum of placement durations is the progress toward the
// 10,000 hour goal.
//
// Session methods are pure state transitions. Service wires them to a Store,
// a Detector and the photo pipeline, and serializes concurrent requests that
// target the same session.
package tracker
