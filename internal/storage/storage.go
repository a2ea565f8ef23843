// Package storage is hive's capability set over input/output document
// trees: list/read/write/exists, backed by either the local filesystem or a
// remote shell transport. The original morenodevai/hive coordinator shells
// out to `ssh user@host <cmd>` for every remote operation
// (original_source/hive/coordinator.py's _ssh_cmd/_ssh_read_file/_ssh_write_file);
// the corpus has no SSH/SFTP client library anywhere (no
// golang.org/x/crypto/ssh or github.com/pkg/sftp import exists in any
// go.mod under _examples/), so this package reproduces the same
// os/exec-over-ssh-binary transport rather than hand-rolling the SSH
// protocol or inventing a dependency the corpus never uses.
package storage

import (
	"context"
	"errors"
)

// ErrTimeout is returned when a storage operation exceeds its deadline.
var ErrTimeout = errors.New("storage: operation timed out")

// ErrNotFound is returned by Local.Read for a path that doesn't exist.
// RemoteShell.Read reports a missing path as a wrapped ssh error instead.
var ErrNotFound = errors.New("storage: path not found")

// Storage is the uniform interface the coordinator uses regardless of
// whether the backing tree is local or remote. Per spec §4.6/§9, both
// variants present identical semantics to callers.
type Storage interface {
	// List returns every path beneath prefix whose name matches ext
	// (e.g. ".pdf"), recursively. Local compares the extension
	// case-insensitively; RemoteShell's find -name match is case-sensitive.
	List(ctx context.Context, prefix, ext string) ([]string, error)
	// Read returns the full contents of path.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write creates any missing parent directories and writes data to path.
	Write(ctx context.Context, path string, data []byte) error
	// Exists reports whether path resolves to a readable file.
	Exists(ctx context.Context, path string) bool
}

const (
	dirOpTimeout  = 30 // seconds, per spec §4.6
	fileOpTimeout = 120
)
