package validate

import (
	"errors"
	"regexp"
)

// Device names are the sole user-influenced token that ever reaches an
// external-process argv; only plain kernel names pass, never paths.
var (
	reDevice = regexp.MustCompile(`^(sd[a-z]{1,3}|hd[a-z]{1,3}|vd[a-z]{1,3}|xvd[a-z]{1,3}|nvme[0-9]+n[0-9]+|mmcblk[0-9]+)$`)
	reVolume = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

	ErrBadDevice = errors.New("invalid device name")
	ErrBadName   = errors.New("invalid volume name")
)

func DeviceName(s string) error {
	if !reDevice.MatchString(s) {
		return ErrBadDevice
	}
	return nil
}

func VolumeName(s string) error {
	if !reVolume.MatchString(s) {
		return ErrBadName
	}
	return nil
}
