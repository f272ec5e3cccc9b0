// Package approval reviews client project submissions.
//
// A submission moves from pending to approved or rejected exactly once. The
// transition is a guarded update in the store, so concurrent reviewers cannot
// both win: the loser deletes the project it created and reports the
// winner's. Work that follows a decision (client membership, the legacy
// request row, the activity entry and the broadcast) is best-effort.
package approval
