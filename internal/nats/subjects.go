package nats

import "fmt"

// Subject hierarchy.
//
//	checks.queue.{name}.jobs   -- job id messages for a queue
//	checks.events.{type}       -- lifecycle events (core pub/sub, not persisted)
const (
	StreamName    = "CHECKS"
	SubjectPrefix = "checks"

	// KV bucket names
	BucketJobs      = "checks-jobs"
	BucketUnique    = "checks-unique"
	BucketScheduled = "checks-scheduled"
	BucketActive    = "checks-active"
	BucketFailed    = "checks-failed"
	BucketState     = "checks-state"
	BucketCycles    = "checks-cycles"
	BucketTransfers = "checks-transfers"
)

// QueueJobsSubject returns the subject for publishing jobs to a queue.
// Example: checks.queue.tasks.jobs
func QueueJobsSubject(queue string) string {
	return fmt.Sprintf("%s.queue.%s.jobs", SubjectPrefix, queue)
}

// QueueAllSubject returns the wildcard subject for all queue messages.
func QueueAllSubject() string {
	return fmt.Sprintf("%s.queue.>", SubjectPrefix)
}

// EventSubject returns the subject an event type is published on.
// Example: checks.events.cycle.persisted
func EventSubject(eventType string) string {
	return fmt.Sprintf("%s.events.%s", SubjectPrefix, eventType)
}

// EventsAllSubject returns the wildcard subject for all events.
func EventsAllSubject() string {
	return fmt.Sprintf("%s.events.>", SubjectPrefix)
}

// ConsumerName returns the durable consumer name for a queue.
func ConsumerName(queue string) string {
	return fmt.Sprintf("checks-consumer-%s", queue)
}
