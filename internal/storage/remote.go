package storage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// RemoteShell implements Storage by shelling out to the ssh binary, exactly
// as original_source/hive/coordinator.py's _ssh_cmd/_ssh_read_file/_ssh_write_file
// do via subprocess.run(["ssh", f"{user}@{host}", cmd]). Every call is
// wrapped in a context.WithTimeout so a wedged remote host can't hang the
// coordinator past spec §4.6's 30s/120s budgets.
type RemoteShell struct {
	user string
	host string
}

// NewRemoteShell builds a Storage that runs commands as user@host over ssh.
func NewRemoteShell(user, host string) *RemoteShell {
	return &RemoteShell{user: user, host: host}
}

func (r *RemoteShell) target() string {
	return fmt.Sprintf("%s@%s", r.user, r.host)
}

func (r *RemoteShell) run(ctx context.Context, timeout time.Duration, shellCmd string, stdin []byte) ([]byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(dialCtx, "ssh", r.target(), shellCmd)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if dialCtx.Err() != nil {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("ssh %s %q: %w: %s", r.target(), shellCmd, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (r *RemoteShell) List(ctx context.Context, prefix, ext string) ([]string, error) {
	shellCmd := fmt.Sprintf("find %s -name '*%s' -type f", shellQuote(prefix), ext)
	out, err := r.run(ctx, dirOpTimeout*time.Second, shellCmd, nil)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	var paths []string
	for _, line := range lines {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func (r *RemoteShell) Read(ctx context.Context, path string) ([]byte, error) {
	shellCmd := fmt.Sprintf("cat %s", shellQuote(path))
	return r.run(ctx, fileOpTimeout*time.Second, shellCmd, nil)
}

func (r *RemoteShell) Write(ctx context.Context, path string, data []byte) error {
	dir := path[:strings.LastIndex(path, "/")]
	if dir == "" {
		dir = "/"
	}
	shellCmd := fmt.Sprintf("mkdir -p %s; cat > %s", shellQuote(dir), shellQuote(path))
	_, err := r.run(ctx, fileOpTimeout*time.Second, shellCmd, data)
	return err
}

func (r *RemoteShell) Exists(ctx context.Context, path string) bool {
	shellCmd := fmt.Sprintf("test -f %s", shellQuote(path))
	_, err := r.run(ctx, dirOpTimeout*time.Second, shellCmd, nil)
	return err == nil
}

// shellQuote wraps an argument in single quotes for the remote shell,
// escaping any embedded single quote. Paths here are server-side logical
// paths derived from our own scan, not arbitrary user input, but this still
// avoids word-splitting on spaces.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
