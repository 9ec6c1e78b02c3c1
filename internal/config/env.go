package config

import (
	"strconv"
	"strings"
)

// MPDEnv is what MPD_HOST and MPD_PORT say about the MPD server.
type MPDEnv struct {
	Host     string
	Port     int
	Socket   string
	Password string
}

// ParseMPDEnv understands the forms mpc accepts for MPD_HOST:
//
//	host
//	/path/to/socket
//	@abstract
//	password@host
//	password@/path/to/socket
//	password@@abstract
func ParseMPDEnv(getenv func(string) string) MPDEnv {
	var env MPDEnv

	if v := getenv("MPD_HOST"); v != "" {
		switch {
		case strings.HasPrefix(v, "@"):
			env.Socket = v
		case strings.Contains(v, "@@"):
			pass, sock, _ := strings.Cut(v, "@@")
			env.Password = pass
			env.Socket = "@" + sock
		case strings.Contains(v, "@"):
			pass, addr, _ := strings.Cut(v, "@")
			env.Password = pass
			env.setAddr(addr)
		default:
			env.setAddr(v)
		}
	}

	if p := getenv("MPD_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			env.Port = n
		}
	}
	return env
} // func ParseMPDEnv

// setAddr treats anything with a slash as a socket path, relative or not.
func (e *MPDEnv) setAddr(addr string) {
	if strings.Contains(addr, "/") {
		e.Socket = addr
		return
	}
	e.Host = addr
}
