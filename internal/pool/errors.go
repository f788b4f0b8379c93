package pool

import "errors"

// Error taxonomy. Validation-phase errors abort before any side effect;
// mid-sequence failures are reported through the step log plus one of these.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrRequiresConfirmation = errors.New("existing data detected, confirmation required")
	ErrNotMountable         = errors.New("filesystem could not be mounted")
	ErrUuidUnresolvable     = errors.New("filesystem uuid could not be resolved")
	ErrFilesInUse           = errors.New("mount is busy, files in use")
	ErrPoolInvariant        = errors.New("pool invariant violation")
	ErrScanFailed           = errors.New("device scan failed")
	ErrBusy                 = errors.New("operation already running")
)

// Kind maps a taxonomy error to its stable wire identifier.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrDeviceNotFound):
		return "DeviceNotFound"
	case errors.Is(err, ErrRequiresConfirmation):
		return "RequiresConfirmation"
	case errors.Is(err, ErrNotMountable):
		return "NotMountable"
	case errors.Is(err, ErrUuidUnresolvable):
		return "UuidUnresolvable"
	case errors.Is(err, ErrFilesInUse):
		return "FilesInUse"
	case errors.Is(err, ErrPoolInvariant):
		return "PoolInvariantViolation"
	case errors.Is(err, ErrScanFailed):
		return "ScanFailed"
	case errors.Is(err, ErrBusy):
		return "Busy"
	}
	return "Internal"
}
