//go:build !windows

package tools

import "syscall"

const noFollow = syscall.O_NOFOLLOW
