//go:build !windows

package reclaimarr

import "syscall"

func SetUmask(mask int) {
	syscall.Umask(mask)
}
