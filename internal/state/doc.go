// Package state persists the watcher's watermark: the index of the last row
// already notified.
//
// Two drivers exist:
//   - "file": a plain integer in a text file (default, dependency-free)
//   - "sqlite": a SQLite database that also keeps a delivery audit trail
//     (build with -tags sqlite)
//
// The watermark is monotonically non-decreasing; the watcher only calls Save
// with a value >= the one it loaded.
package state
