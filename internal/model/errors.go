package model

import "github.com/rotisserie/eris"

// Error kinds shared by training and inference. Callers wrap them with
// eris.Wrapf for context and test them with errors.Is.
var (
	// ErrDataUnavailable means the data store is unreachable or a query failed.
	ErrDataUnavailable = eris.New("data unavailable")
	// ErrLabelingAmbiguous means a joined record lacks the aggregate fields the
	// labeling rule needs and the configured policy forbids skipping it.
	ErrLabelingAmbiguous = eris.New("labeling ambiguous")
	// ErrShapeMismatch means the feature count, order or row arity differs
	// from the fitted schema.
	ErrShapeMismatch = eris.New("shape mismatch")
	// ErrFeatureMissing means a required input column is absent.
	ErrFeatureMissing = eris.New("feature missing")
	// ErrArtifactNotFound means no model has been trained for the task.
	ErrArtifactNotFound = eris.New("no model trained for this task")
	// ErrSearchExhausted means hyperparameter search produced no valid candidate.
	ErrSearchExhausted = eris.New("search exhausted")
	// ErrUnknownTask means the task id is not one of the supported tasks.
	ErrUnknownTask = eris.New("unknown task")
)
