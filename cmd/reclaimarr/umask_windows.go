//go:build windows

package reclaimarr

// SetUmask is a no-op on Windows.
func SetUmask(mask int) {}
