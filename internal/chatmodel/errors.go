package chatmodel

import "errors"

// Sentinel validation errors. internal/apperrors wraps these as typed
// InvalidRequest errors; chatmodel itself stays free of that dependency
// since it sits at the bottom of the import graph.
var (
	errEmptyModel    = errors.New("model must not be empty")
	errEmptyMessages = errors.New("messages must not be empty")
)
