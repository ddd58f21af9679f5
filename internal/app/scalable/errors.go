package scalable

import "errors"

var (
	// ErrSessionExists and ErrSessionMismatch report a session job racing another one
	// for the same conversation. They are never retried.
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionMismatch = errors.New("session id mismatch")

	// ErrMissingStart is returned for a shard batch that neither has a worker nor starts one.
	ErrMissingStart = errors.New("shard has no worker and no start task")

	ErrWorkerNotFound   = errors.New("worker not found")
	ErrWorkerOverBudget = errors.New("worker budget exceeded")

	// ErrNoCapacity means no worker can take another shard right now.
	ErrNoCapacity = errors.New("no worker capacity")
)

// IsContractViolation reports errors that a retry of the same batch can not fix.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrSessionExists) ||
		errors.Is(err, ErrSessionMismatch) ||
		errors.Is(err, ErrMissingStart)
}
