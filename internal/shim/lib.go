// Package shim binds the libwebrtc shim shared library through purego.
// Only the video encoder surface used by the H.264 codec is bound.
package shim

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrLibraryNotLoaded is returned when the shim library hasn't been loaded.
	ErrLibraryNotLoaded = errors.New("shim: library not loaded")

	// ErrLibraryNotFound is returned when the shim library cannot be found.
	ErrLibraryNotFound = errors.New("shim: library not found")

	// Sentinels matching shim error codes.
	ErrInvalidParam   = errors.New("invalid parameter")
	ErrInitFailed     = errors.New("initialization failed")
	ErrEncodeFailed   = errors.New("encode failed")
	ErrOutOfMemory    = errors.New("out of memory")
	ErrNotSupported   = errors.New("not supported")
	ErrNeedMoreData   = errors.New("need more data")
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Error codes returned by the shim (C int).
const (
	OK                 int32 = 0
	CodeInvalidParam   int32 = -1
	CodeInitFailed     int32 = -2
	CodeEncodeFailed   int32 = -3
	CodeOutOfMemory    int32 = -5
	CodeNotSupported   int32 = -6
	CodeNeedMoreData   int32 = -7
	CodeBufferTooSmall int32 = -8
)

// CodecType matches ShimCodecType in shim.h.
type CodecType int32

const CodecH264 CodecType = 0

// PathEnv names the environment variable that overrides the library search.
const PathEnv = "DESKSTREAM_SHIM_PATH"

var (
	libHandle uintptr
	libLoaded atomic.Bool
	libMu     sync.Mutex
)

// Load opens the shim library and binds its symbols. It searches PathEnv,
// then lib/{os}_{arch}/ next to the executable and the working directory,
// then the system loader path.
func Load() error {
	libMu.Lock()
	defer libMu.Unlock()

	if libLoaded.Load() {
		return nil
	}

	path, ok := findLibrary()
	if !ok {
		path = libraryNameFor(runtime.GOOS)
	}

	handle, err := dlopenLibrary(path)
	if err != nil {
		return errors.Wrapf(ErrLibraryNotFound, "%s: %v", path, err)
	}
	if err := registerFunctions(handle); err != nil {
		_ = dlcloseLibrary(handle)
		return err
	}

	libHandle = handle
	libLoaded.Store(true)
	return nil
}

// IsLoaded reports whether Load succeeded.
func IsLoaded() bool {
	return libLoaded.Load()
}

// Close unloads the shim library.
func Close() error {
	libMu.Lock()
	defer libMu.Unlock()

	if !libLoaded.Load() {
		return nil
	}
	if err := dlcloseLibrary(libHandle); err != nil {
		return err
	}
	libLoaded.Store(false)
	libHandle = 0
	return nil
}

// Version returns the shim library version, or "" if not loaded.
func Version() string {
	if !libLoaded.Load() {
		return ""
	}
	return goString(shimVersion())
}

func findLibrary() (string, bool) {
	if path := os.Getenv(PathEnv); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}

	name := libraryNameFor(runtime.GOOS)
	platformDir := fmt.Sprintf("%s_%s", runtime.GOOS, runtime.GOARCH)

	var paths []string
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "lib", platformDir, name))
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "lib", platformDir, name),
			filepath.Join(wd, "..", "lib", platformDir, name),
		)
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs, true
		}
	}
	return "", false
}

func libraryNameFor(goos string) string {
	switch goos {
	case "darwin":
		return "libwebrtc_shim.dylib"
	case "windows":
		return "libwebrtc_shim.dll"
	default:
		return "libwebrtc_shim.so"
	}
}

// Error converts a shim error code to a Go error.
func Error(code int32) error {
	switch code {
	case OK:
		return nil
	case CodeInvalidParam:
		return ErrInvalidParam
	case CodeInitFailed:
		return ErrInitFailed
	case CodeEncodeFailed:
		return ErrEncodeFailed
	case CodeOutOfMemory:
		return ErrOutOfMemory
	case CodeNotSupported:
		return ErrNotSupported
	case CodeNeedMoreData:
		return ErrNeedMoreData
	case CodeBufferTooSmall:
		return ErrBufferTooSmall
	default:
		return errors.Errorf("unknown shim error: %d", code)
	}
}
