package storage

import (
	"fmt"
	"regexp"
)

// Location is a parsed source/destination string per spec §6's grammar:
// "remote://<user>@<host>:<abs_path>" or a bare "<abs_path>".
type Location struct {
	Remote bool
	User   string
	Host   string
	Path   string
}

var remoteLocationPattern = regexp.MustCompile(`^remote://([^@]+)@([^:]+):(/.*)$`)

// ParseLocation parses a location string into its components. A bare
// absolute path is treated as local; anything prefixed "remote://" must
// fully match user@host:path or parsing fails.
func ParseLocation(raw string) (Location, error) {
	if m := remoteLocationPattern.FindStringSubmatch(raw); m != nil {
		return Location{Remote: true, User: m[1], Host: m[2], Path: m[3]}, nil
	}
	if len(raw) > 0 && raw[0] == '/' {
		return Location{Remote: false, Path: raw}, nil
	}
	return Location{}, fmt.Errorf("storage: invalid location %q, want /abs/path or remote://user@host:/abs/path", raw)
}

// Open builds the Storage implementation a Location names.
func Open(loc Location) Storage {
	if loc.Remote {
		return NewRemoteShell(loc.User, loc.Host)
	}
	return NewLocal()
}
