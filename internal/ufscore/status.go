package ufscore

import "golang.org/x/xerrors"

// Status mirrors the UFS_STATUS_LIST / negative-constant enumerations from
// the original C headers, unified into a single positive-valued list per
// spec.md §6's note that "the external interface unifies them".
type Status uint8

const (
	NoError Status = iota
	OutOfMemory
	BadCall
	ViewContainsDuplicates
	InvalidAreaInView
	AlreadyExists
	DoesNotExist
	DirectoryIsNotEmpty
	CannotResolveStorage
	UnknownError

	// Image-layer additions (spec.md §6).
	ImageDoesNotExist
	ImageIsCorrupted
	ImageTooSmall
	VersionMismatch
	CantCreateFile
	ImageCouldNotSync
)

var statusStrings = [...]string{
	NoError:                "NO_ERROR",
	OutOfMemory:            "OUT_OF_MEMORY",
	BadCall:                "BAD_CALL",
	ViewContainsDuplicates: "VIEW_CONTAINS_DUPLICATES",
	InvalidAreaInView:      "INVALID_AREA_IN_VIEW",
	AlreadyExists:          "ALREADY_EXISTS",
	DoesNotExist:           "DOES_NOT_EXIST",
	DirectoryIsNotEmpty:    "DIRECTORY_IS_NOT_EMPTY",
	CannotResolveStorage:   "CANNOT_RESOLVE_STORAGE",
	UnknownError:           "UNKNOWN_ERROR",
	ImageDoesNotExist:      "IMAGE_DOES_NOT_EXIST",
	ImageIsCorrupted:       "IMAGE_IS_CORRUPTED",
	ImageTooSmall:          "IMAGE_TOO_SMALL",
	VersionMismatch:        "VERSION_MISMATCH",
	CantCreateFile:         "CANT_CREATE_FILE",
	ImageCouldNotSync:      "IMAGE_COULD_NOT_SYNC",
}

// String renders the status the way ufsStatusStrings does in the original
// header: one human-readable constant name per code.
func (s Status) String() string {
	if int(s) < len(statusStrings) && statusStrings[s] != "" {
		return statusStrings[s]
	}
	return "UNKNOWN_ERROR"
}

// statusError carries a Status alongside a wrapped cause so callers that
// want the rich error (the idiomatic Go path) and callers that only check
// Errno() (the wire-compatible path, see spec.md §9 "Global status
// variable") both get what they need from the same call.
type statusError struct {
	status Status
	cause  error
}

func (e *statusError) Error() string {
	if e.cause != nil {
		return xerrors.Errorf("%s: %w", e.status, e.cause).Error()
	}
	return e.status.String()
}

func (e *statusError) Unwrap() error { return e.cause }

// Is reports whether target is an error built by this package with status
// s. Status does not implement error and statusError has no Is method, so
// errors.Is(err, ufscore.DoesNotExist) is not supported; StatusOf extracts
// the status from an error instead.
func (s Status) Is(target error) bool {
	se, ok := target.(*statusError)
	return ok && se.status == s
}

// newErr builds an error for status s, recording it as the package's
// current errno as a side effect — every entry point does this exactly
// once on its way out, per spec.md §7.
func newErr(s Status, cause error) error {
	SetErrno(s)
	return &statusError{status: s, cause: cause}
}

// StatusOf extracts the Status a ufscore error was constructed with, or
// UnknownError if err didn't originate from this package.
func StatusOf(err error) Status {
	if err == nil {
		return NoError
	}
	var se *statusError
	if xerrors.As(err, &se) {
		return se.status
	}
	return UnknownError
}

// errno is the process-wide, "thread-local" status variable spec.md §6/§9
// describe. The core is documented as single-threaded cooperative (§5): no
// synchronization is applied here on purpose, mirroring the C original's
// plain `ufsStatusType ufsErrno` global.
var errno = NoError

// Errno returns the status set by the most recently completed entry point.
func Errno() Status { return errno }

// SetErrno is called by every entry point as it returns, success or not.
func SetErrno(s Status) { errno = s }
