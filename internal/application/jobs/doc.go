// Package jobs accepts count jobs and delivers their results.
//
// The Service validates a submission against the connected sessions,
// spools the payload to disk and publishes a job event. The worker pool
// (see package workers) picks the event up and publishes the outcome,
// which the Notifier pushes to the session that submitted the job.
package jobs
