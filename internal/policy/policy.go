package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/penates/penates/internal/store"
)

// Decision is the result of evaluating a command or path against policy.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// RememberedSource provides command patterns a human approved permanently.
type RememberedSource interface {
	ListRemembered() ([]*store.RememberedCommand, error)
}

// CommandPolicy decides whether a shell command may run without approval.
// A command is auto-allowed when its safe prefix (the command truncated at
// the first shell metacharacter) matches a static allowlist entry or a
// remembered pattern, unless RequireApprovalForAll overrides everything.
type CommandPolicy struct {
	mu            sync.RWMutex
	allowlistPath string
	prefixes      []string
	remembered    RememberedSource
	requireAll    bool
	allowedRoots  []string
	logger        *slog.Logger
}

// Defaults written to the allowlist file when it does not exist yet.
// One prefix per line; lines starting with # are comments.
var defaultAllowlist = []string{
	"git status",
	"git diff",
	"git log",
	"git show",
	"git branch",
	"git add",
	"git commit",
	"git push",
	"git pull",
	"git checkout",
	"go build",
	"go test",
	"go vet",
	"pytest",
	"python -m pytest",
	"ruff",
	"mypy",
	"npm test",
	"npm run",
	"ls",
	"pwd",
	"cat",
	"head",
	"tail",
	"grep",
	"rg",
	"find",
	"wc",
	"which",
	"echo",
	"date",
	"df",
	"du",
	"uptime",
}

func NewCommandPolicy(allowlistPath string, requireAll bool, allowedRoots []string, remembered RememberedSource, logger *slog.Logger) (*CommandPolicy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &CommandPolicy{
		allowlistPath: allowlistPath,
		remembered:    remembered,
		requireAll:    requireAll,
		allowedRoots:  allowedRoots,
		logger:        logger.With("component", "policy"),
	}
	if err := p.loadAllowlist(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CommandPolicy) loadAllowlist() error {
	data, err := os.ReadFile(p.allowlistPath)
	if os.IsNotExist(err) {
		content := "# Auto-approved command prefixes, one per line.\n" +
			strings.Join(defaultAllowlist, "\n") + "\n"
		if mkErr := os.MkdirAll(filepath.Dir(p.allowlistPath), 0o755); mkErr != nil {
			return fmt.Errorf("failed to create allowlist dir: %w", mkErr)
		}
		if wrErr := os.WriteFile(p.allowlistPath, []byte(content), 0o644); wrErr != nil {
			return fmt.Errorf("failed to write default allowlist: %w", wrErr)
		}
		p.logger.Info("created default command allowlist", "path", p.allowlistPath)
		data = []byte(content)
	} else if err != nil {
		return fmt.Errorf("failed to read allowlist: %w", err)
	}

	var prefixes []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefixes = append(prefixes, strings.ToLower(line))
	}

	p.mu.Lock()
	p.prefixes = prefixes
	p.mu.Unlock()
	return nil
}

// Reload re-reads the allowlist file.
func (p *CommandPolicy) Reload() error {
	return p.loadAllowlist()
}

// safePrefix truncates a command at the first shell metacharacter so that
// chained or substituted commands never ride in on an allowlisted prefix.
func safePrefix(command string) string {
	cut := len(command)
	for _, metachar := range []string{";", "|", "&", "`", "$(", "\n"} {
		if i := strings.Index(command, metachar); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(command[:cut])
}

// CheckCommand decides whether the shell command may run without approval.
func (p *CommandPolicy) CheckCommand(command string) Decision {
	if p.requireAll {
		return Decision{Allow: false, Reason: "approval required for all commands"}
	}

	candidate := strings.ToLower(safePrefix(command))
	if candidate == "" {
		return Decision{Allow: false, Reason: "empty command"}
	}
	if candidate != strings.ToLower(strings.TrimSpace(command)) {
		// The raw command carried shell metacharacters; only the leading
		// segment is considered and the whole thing needs approval.
		return Decision{Allow: false, Reason: "command contains shell control characters"}
	}

	p.mu.RLock()
	prefixes := p.prefixes
	p.mu.RUnlock()

	for _, prefix := range prefixes {
		if matchesPrefix(candidate, prefix) {
			return Decision{Allow: true, Reason: fmt.Sprintf("matches allowlist prefix %q", prefix)}
		}
	}

	if p.remembered != nil {
		patterns, err := p.remembered.ListRemembered()
		if err != nil {
			p.logger.Warn("failed to load remembered commands", "error", err)
		} else {
			for _, r := range patterns {
				if matchesPrefix(candidate, strings.ToLower(strings.TrimSpace(r.Pattern))) {
					return Decision{Allow: true, Reason: fmt.Sprintf("matches remembered pattern %q", r.Pattern)}
				}
			}
		}
	}

	return Decision{Allow: false, Reason: "command not in allowlist"}
}

// matchesPrefix is a word-boundary prefix match: "ls" matches "ls -la"
// but not "lsblk".
func matchesPrefix(candidate, prefix string) bool {
	if prefix == "" {
		return false
	}
	if candidate == prefix {
		return true
	}
	return strings.HasPrefix(candidate, prefix+" ")
}

// CheckPath decides whether a filesystem path may be written. The path is
// made absolute and symlinks are resolved before the containment check, so
// ".." tricks and links pointing outside the roots are rejected.
func (p *CommandPolicy) CheckPath(path string) Decision {
	if len(p.allowedRoots) == 0 {
		return Decision{Allow: false, Reason: "no allowed roots configured"}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Decision{Allow: false, Reason: fmt.Sprintf("cannot resolve path: %v", err)}
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return Decision{Allow: false, Reason: fmt.Sprintf("cannot resolve path: %v", err)}
	}

	for _, root := range p.allowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if resolvedRoot, err := filepath.EvalSymlinks(rootAbs); err == nil {
			rootAbs = resolvedRoot
		}
		if resolved == rootAbs || strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
			return Decision{Allow: true, Reason: fmt.Sprintf("within allowed root %s", root)}
		}
	}
	return Decision{Allow: false, Reason: "path outside allowed roots"}
}

// resolveExisting resolves symlinks in abs even when the tail of the path
// does not exist yet: it walks up to the nearest existing ancestor,
// resolves that, and rejoins the not-yet-created suffix. Writes routinely
// target files in directories the tool is about to create.
func resolveExisting(abs string) (string, error) {
	suffix := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			// Hit the filesystem root without finding anything.
			return "", err
		}
		suffix = filepath.Join(filepath.Base(current), suffix)
		current = parent
	}
}
