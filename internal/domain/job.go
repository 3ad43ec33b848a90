package domain

import "time"

type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateDone       JobState = "done"
	JobStateFailed     JobState = "failed"
)

func ValidJobState(s string) bool {
	switch JobState(s) {
	case JobStatePending, JobStateProcessing, JobStateDone, JobStateFailed:
		return true
	}
	return false
}

// Finished reports whether the state is terminal.
func (s JobState) Finished() bool {
	return s == JobStateDone || s == JobStateFailed
}

// Job asks for the score document of one identity to be (re)computed.
type Job struct {
	ID             string     `json:"jobId"`
	Identity       string     `json:"did"`
	Handle         string     `json:"handle,omitempty"`
	Force          bool       `json:"force,omitempty"`
	State          JobState   `json:"status"`
	Attempts       int        `json:"attempts"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	NotBefore      *time.Time `json:"notBefore,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// RetryBackoff returns the delay before the next attempt after the given
// number of failed attempts: base, 2·base, 4·base, ...
func RetryBackoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		attempts = 16
	}
	return base << (attempts - 1)
}
