package errors

import stderrors "errors"

// Is re-exports the standard library's errors.Is so callers do not need a
// second errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As re-exports the standard library's errors.As.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }
