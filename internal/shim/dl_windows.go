//go:build windows

package shim

import (
	"syscall"

	"github.com/pkg/errors"
)

func dlopenLibrary(path string) (uintptr, error) {
	h, err := syscall.LoadLibrary(path)
	if err != nil {
		return 0, errors.Wrap(err, "LoadLibrary")
	}
	return uintptr(h), nil
}

func dlsymLibrary(handle uintptr, name string) (uintptr, error) {
	addr, err := syscall.GetProcAddress(syscall.Handle(handle), name)
	if err != nil {
		return 0, errors.Wrapf(err, "GetProcAddress(%s)", name)
	}
	return addr, nil
}

func dlcloseLibrary(handle uintptr) error {
	return syscall.FreeLibrary(syscall.Handle(handle))
}
