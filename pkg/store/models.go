package store

import (
	"time"
)

// FormerHandle is one entry in an account's rename history.
type FormerHandle struct {
	Handle     string    `json:"handle"`
	ReplacedAt time.Time `json:"replaced_at"`
}

// Account is a tracked upstream user. UID 0 means not yet resolved.
type Account struct {
	ID            int64
	Handle        string
	UID           int64
	FormerHandles []FormerHandle
	Active        bool
	LastChecked   *time.Time
	CreatedAt     time.Time
}

// Resolved reports whether the stable id is known.
func (a *Account) Resolved() bool {
	return a.UID != 0
}

// AccountSet is a named group of accounts.
type AccountSet struct {
	ID          int64
	Name        string
	Notes       string
	MemberCount int
	CreatedAt   time.Time
}

// JobStatus is the lifecycle state of a harvest job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobFinished  JobStatus = "finished"
	JobAbandoned JobStatus = "abandoned"
)

// Job is one harvest run. FinishedAt stays nil unless the run completed.
type Job struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	ItemCount  int
	Status     JobStatus
}

// HarvestError records one account failure within a job.
type HarvestError struct {
	ID         int64
	JobID      int64
	AccountID  int64
	Handle     string
	Detail     string
	ErrorType  string
	RecordedAt time.Time
}

// HarvestCursor is where an account's timeline walk stands. Everything from
// the previous horizon up to Horizon is stored. A walk that stopped early
// leaves BackfillMaxID set: items at or below it and above Horizon are still
// to fetch, and BackfillTop is the newest id that walk saw.
type HarvestCursor struct {
	AccountID     int64
	Horizon       int64
	BackfillMaxID int64
	BackfillTop   int64
	UpdatedAt     time.Time
}

// Pending reports whether an interrupted walk should be resumed.
func (c *HarvestCursor) Pending() bool {
	return c.BackfillMaxID > 0
}

// Item is a stored post. Raw is the upstream payload, verbatim.
type Item struct {
	ID          int64
	AccountID   int64
	TwitterID   int64
	PublishedAt time.Time
	Text        string
	Raw         []byte
	Location    string
	Source      string
	CreatedAt   time.Time

	// Handle is the owning account's handle, filled on reads.
	Handle string
}

// Filter is a tracking rule for the streaming endpoint. Words, People and
// Locations are comma-separated and passed through unchanged.
type Filter struct {
	ID        int64
	Name      string
	Owner     string
	Active    bool
	Words     string
	People    string
	Locations string
	CreatedAt time.Time
}

// DailyCount is the number of items an account published on one UTC day.
type DailyCount struct {
	Day   time.Time
	Count int
}
