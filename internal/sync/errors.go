package sync

import "fmt"

// Stage names the part of a run that failed
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageUpsert Stage = "upsert"
	StageDelete Stage = "delete"
)

// ConfigurationError is returned for a batch size below 1
type ConfigurationError struct {
	BatchSize int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid batch size %d: must be a positive integer", e.BatchSize)
}

// PersistenceError is returned when reading or writing local storage fails.
// Batch is 1-based and only set for StageUpsert.
type PersistenceError struct {
	Stage Stage
	Batch int
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Stage == StageUpsert {
		return fmt.Sprintf("batch %d upsert failed: %v", e.Batch, e.Err)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
