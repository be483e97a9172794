//go:build !unix

package directory

// Without flock only the in-process lock registry protects lock files.
func lockFile(uintptr) error   { return nil }
func unlockFile(uintptr) error { return nil }
