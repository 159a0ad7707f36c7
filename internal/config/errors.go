package config

import "errors"

var (
	// ErrNoArchive is returned when a rollback is requested but no
	// last-known-good archive exists.
	ErrNoArchive = errors.New("no last-known-good config archive found")

	// ErrCommitConfirmedPending is returned when a commit-confirmed
	// operation is already in progress.
	ErrCommitConfirmedPending = errors.New("commit-confirmed already pending")

	// ErrNoPending is returned when trying to confirm but no
	// commit-confirmed is active.
	ErrNoPending = errors.New("no commit-confirmed pending")
)
