// Package trackit provides functionality for discovering and tracking
// live objects in another process's memory.
//
// APIs are separated into subpackages, and documented accordingly.
// The memio, record, scan, and ordindex packages form the read-only
// analysis pipeline; guard and track add the crash-recovery policy
// and the session-oriented engine on top; proc binds the pipeline to
// a real process on Linux.
package trackit
