// Package workers implements the worker pool that executes count jobs.
//
// The pool holds a single subscription to the jobs topic and hands each
// job to one of a fixed number of goroutines, which:
//   - count the character in the spooled payload
//   - remove the spool file
//   - store the result in the result store
//   - publish a completion or failure event on the results topic
//
// The health monitor tracks worker status and records it as metrics.
package workers
