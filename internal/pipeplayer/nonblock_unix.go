//go:build unix

package pipeplayer

import "syscall"

const nonblock = syscall.O_NONBLOCK
