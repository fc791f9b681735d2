// Package state implements the state coordinator: a data-driven finite
// state machine that gates which operations are legal at any moment.
//
// States, their outbound edges and the guard conditions on entering each
// state come from a transition table (see LoadTable). The coordinator
// fails closed: a target outside the current state's outbound set is
// rejected unless forced, and a target whose conditions do not hold is
// rejected with the ids of the failed conditions.
//
// # Force policy
//
//   - ForceEdgeOnly (default): force bypasses the edge check only.
//     Conditions are still evaluated and still gate the transition.
//   - ForceOverride: force also bypasses failed conditions. The failed
//     ids are recorded and the record is marked Forced.
//
// Accepted transitions publish "state.changed"; rejected requests publish
// "state.rejected". Both are appended to a bounded history, newest first.
// Requesting the current state is an accepted no-op that records nothing.
//
// RequestTransition never returns an error: the TransitionRecord carries
// Accepted=false and the rejection reason instead.
package state
