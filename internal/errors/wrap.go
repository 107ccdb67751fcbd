package errors

import (
	"github.com/cockroachdb/errors"
)

// Wrap annotates err with msg. It returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WrapWithDepth(1, err, msg)
}

// Wrapf annotates err with a formatted message. It returns nil when err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WrapWithDepthf(1, err, format, args...)
}

// WithRerunHint attaches the operator hint shown when a run aborts.
// Aborted runs publish nothing, so rerunning picks up the same identifiers.
func WithRerunHint(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithHint(err, "nothing was published for this run; rerun the job to resume from the same pending identifiers")
}
