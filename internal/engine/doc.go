// Package engine runs one recurring reload schedule at a time.
//
// The engine is split in two. Step is a pure transition function over the
// session State that returns the effects a transition asks for. Engine owns
// the impure parts (tick source, visibility subscription, companion window and
// reporter) and executes those effects. Anything that can block (companion
// navigation, visibility subscription) runs after the lock is released, so
// Pause, Resume and Stop are never held up by a slow target.
//
// Stop always wins: it cancels the session context before waiting for the
// lock, so an in-flight navigation is aborted rather than waited on. Reports
// already handed to the reporter are still delivered; only their failure
// notices are dropped once the session is gone.
package engine
