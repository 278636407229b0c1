// Package onnx holds the ONNX Runtime plumbing shared by the classifier:
// shared library discovery, environment setup, session options and the
// float32 image tensor type.
package onnx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// EnvLibraryPath overrides shared library discovery.
	EnvLibraryPath = "ONNXRUNTIME_LIB"
)

var envMu sync.Mutex

// getSystemLibraryPaths returns system library paths to try, prioritizing GPU or CPU based on useGPU.
func getSystemLibraryPaths(useGPU bool) []string {
	if useGPU {
		return []string{
			"/opt/onnxruntime/gpu/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
		}
	}
	return []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	}
}

// findProjectRoot finds the project root directory by looking for go.mod.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	projectRoot := cwd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			return projectRoot, nil
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", errors.New("could not find project root")
		}
		projectRoot = parent
	}
}

// libraryName returns the appropriate library filename for the given OS.
func libraryName(goos string) (string, error) {
	switch goos {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// ResolveLibraryPath finds the ONNX Runtime shared library. An explicit path
// wins, then $ONNXRUNTIME_LIB, then system locations, then ./onnxruntime
// below the project root.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	for _, p := range []string{explicit, os.Getenv(EnvLibraryPath)} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("ONNX Runtime library not found at %s: %w", p, err)
		}
		return p, nil
	}

	for _, path := range getSystemLibraryPaths(useGPU) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		return "", err
	}
	libName, err := libraryName(runtime.GOOS)
	if err != nil {
		return "", err
	}

	candidates := []string{filepath.Join(projectRoot, "onnxruntime", "lib", libName)}
	if useGPU {
		candidates = append([]string{filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", libName)}, candidates...)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found at %s", candidates[len(candidates)-1])
}

// EnsureEnvironment points onnxruntime_go at the shared library and initializes
// the process-wide environment once. Later calls are no-ops.
func EnsureEnvironment(libraryPath string, useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxrt.IsInitialized() {
		return nil
	}

	path, err := ResolveLibraryPath(libraryPath, useGPU)
	if err != nil {
		return err
	}
	onnxrt.SetSharedLibraryPath(path)

	if err := onnxrt.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// CheckRuntime verifies that ONNX Runtime can be loaded and reports progress to w.
func CheckRuntime(w io.Writer, libraryPath string, useGPU bool) error {
	path, err := ResolveLibraryPath(libraryPath, useGPU)
	if err != nil {
		return fmt.Errorf("failed to find ONNX Runtime library: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Using ONNX Runtime library: %s\n", path)

	if err := EnsureEnvironment(path, useGPU); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "✓ ONNX Runtime initialized (%s)\n", onnxrt.GetVersion())
	return nil
}
