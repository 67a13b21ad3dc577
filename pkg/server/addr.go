package server

import "fmt"

// Normalize turns "8080" into ":8080" and leaves host:port values untouched.
func Normalize(addr string) string {
	if addr == "" {
		return ":0"
	}

	if addr[0] == ':' {
		return addr
	}

	for _, c := range addr {
		if c == ':' {
			return addr
		}
	}

	return fmt.Sprintf(":%s", addr)
}
