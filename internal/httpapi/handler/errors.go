package handler

const (
	errInternalServer  = "Internal server error"
	errRunNotFound     = "Run not found"
	errUnknownJob      = "Unknown job"
	errInvalidInput    = "invalid input"
	errInvalidTransition = "run is not in a state that allows this operation"
)
