//go:build !unix

package pipeplayer

const nonblock = 0
