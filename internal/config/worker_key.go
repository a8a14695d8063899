package config

type WorkerKeyStruct struct {
	PersistViolationsQueue string
	RetrySubmissionsQueue  string
	// DeadSubmissionsQueue keeps forced submissions that exhausted their
	// retries, for manual replay.
	DeadSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue: "persist_violations_queue",
	RetrySubmissionsQueue:  "retry_submissions_queue",
	DeadSubmissionsQueue:   "dead_submissions_queue",
}
