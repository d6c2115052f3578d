package tools

import (
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

// Sandbox turns a shell command into the argv that runs it inside dir.
type Sandbox interface {
	Name() string
	Argv(command, dir string) []string
}

// shell runs commands with plain bash and no isolation.
type shell struct{}

func (shell) Name() string                    { return "none" }
func (shell) Argv(command, _ string) []string { return []string{"bash", "-c", command} }

// bubblewrap keeps the host read-only and binds only the workspace
// read-write.
type bubblewrap struct{ path string }

func (b bubblewrap) Name() string { return "bwrap" }

func (b bubblewrap) Argv(command, dir string) []string {
	argv := []string{b.path, "--unshare-pid", "--die-with-parent"}
	for _, p := range []string{"/usr", "/bin", "/lib", "/etc"} {
		argv = append(argv, "--ro-bind", p, p)
	}
	return append(argv,
		"--symlink", "usr/lib64", "/lib64",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--bind", dir, dir,
		"--chdir", dir,
		"bash", "-c", command,
	)
}

// PickSandbox returns bubblewrap when enabled on Linux with bwrap on PATH,
// and the plain shell otherwise.
func PickSandbox(enabled bool) Sandbox {
	if !enabled || runtime.GOOS != "linux" {
		return shell{}
	}
	path, err := exec.LookPath("bwrap")
	if err != nil {
		return shell{}
	}
	return bubblewrap{path: path}
}

// passEnv lists the variables commands inherit. Anything else, API keys
// included, is dropped.
var passEnv = map[string]bool{
	"PATH":    true,
	"HOME":    true,
	"TERM":    true,
	"LANG":    true,
	"GOPATH":  true,
	"GOROOT":  true,
	"GOCACHE": true,
	"TMPDIR":  true,
}

// commandEnv filters env down to passEnv and LC_* locale settings, sorted
// by name.
func commandEnv(env []string) []string {
	var out []string
	for _, kv := range env {
		key, _, ok := strings.Cut(kv, "=")
		if ok && (passEnv[key] || strings.HasPrefix(key, "LC_")) {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

func hostEnv() []string { return commandEnv(os.Environ()) }
