// Package vcsfetch drives git as a subprocess to materialize a
// package's source tree for Git, Universe, and repository-backed
// remote-override sources, grounded on
// original_source/src/git/local.rs's GitRepository, with subprocess
// supervision shaped after a monitoredCmd pattern (activity-timeout
// process supervision) plus a gitRepo wrapper around the vcs library.
package vcsfetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/Masterminds/vcs"

	"github.com/kraklabs/rv/rverrors"
)

// ReferenceKind discriminates how a git reference was supplied.
type ReferenceKind int

const (
	RefCommit ReferenceKind = iota
	RefBranch
	RefTag
	RefUnknown
)

// Reference is a git ref the caller wants checked out: a commit SHA,
// a branch name, a tag name, or an arbitrary ref string whose kind
// isn't known up front (resolved opportunistically during Fetch).
type Reference struct {
	Kind ReferenceKind
	Name string
}

// Refspecs returns the candidate refspecs to try while fetching this
// reference, in priority order. Branches and tags fetch their own
// named ref; a commit fetches by full SHA; an empty or "HEAD"
// reference fetches HEAD; any other unknown reference is tried as a
// branch, then as a tag, then literally, since we can't tell in
// advance whether it names a branch, a tag, or a bare ref.
func (r Reference) Refspecs() []string {
	switch r.Kind {
	case RefBranch:
		return []string{fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", r.Name, r.Name)}
	case RefTag:
		return []string{fmt.Sprintf("+refs/tags/%s:refs/remotes/origin/tags/%s", r.Name, r.Name)}
	case RefCommit:
		return []string{r.Name}
	default:
		if r.Name == "" || r.Name == "HEAD" {
			return []string{"HEAD"}
		}
		return []string{
			fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", r.Name, r.Name),
			fmt.Sprintf("+refs/tags/%s:refs/remotes/origin/tags/%s", r.Name, r.Name),
			r.Name,
		}
	}
}

const headLinePrefix = "HEAD branch: "

// submoduleUpdateDisableEnvVar mirrors the original's escape hatch for
// environments where recursive submodule fetches are undesirable.
const submoduleUpdateDisableEnvVar = "RV_SUBMODULE_UPDATE_DISABLE"

// Repository wraps a single on-disk git checkout used as a fetch
// cache: one per remote URL, reused across resolutions.
type Repository struct {
	Path    string
	URL     string
	timeout time.Duration
}

// Open opens an existing git repository at path, or re-initializes it
// (wiping any non-git contents first) if it isn't one yet.
func Open(path, url string) (*Repository, error) {
	r := &Repository{Path: path, URL: url, timeout: 2 * time.Minute}
	if _, err := r.run("rev-parse"); err != nil {
		if err := os.RemoveAll(path); err != nil {
			return nil, err
		}
		return Init(path, url)
	}
	return r, nil
}

// Init creates a fresh, bare-bones git repository at path with origin
// set to url. We init rather than clone so callers can fetch exactly
// the refs they need instead of the whole repository.
func Init(path, url string) (*Repository, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	r := &Repository{Path: path, URL: url, timeout: 2 * time.Minute}
	if _, err := r.run("init"); err != nil {
		return nil, &rverrors.VCSError{Repo: url, Op: "init", Stderr: err.Error()}
	}
	if _, err := r.run("remote", "add", "origin", url); err != nil {
		return nil, &rverrors.VCSError{Repo: url, Op: "remote add", Stderr: err.Error()}
	}
	return r, nil
}

// Fetch materializes reference locally, trying each of its candidate
// refspecs in turn and only failing if every one of them fails.
//
// For a literal commit reference, Fetch first checks whether the
// object already exists locally; tags and branches are always
// re-fetched since they may have moved upstream.
func (r *Repository) Fetch(reference Reference) error {
	if reference.Kind == RefCommit {
		if _, err := r.run("cat-file", "-e", reference.Name); err == nil {
			return nil
		}
	}

	refspecs := reference.Refspecs()
	var lastErr error
	fetched := false
	for _, refspec := range refspecs {
		if err := r.fetchRefspec(refspec); err != nil {
			lastErr = err
			continue
		}
		fetched = true
		break
	}
	if !fetched {
		return &rverrors.VCSError{Repo: r.URL, Op: "fetch", Stderr: errString(lastErr)}
	}

	if _, err := r.RevParse(reference.Name); err != nil {
		switch reference.Kind {
		case RefBranch:
			if err := r.CheckoutBranch(reference.Name); err != nil {
				return err
			}
		case RefUnknown:
			if reference.Name == "" || reference.Name == "HEAD" {
				if err := r.checkoutHead(); err != nil {
					return err
				}
			} else if _, err := r.RevParse("origin/" + reference.Name); err == nil {
				if err := r.CheckoutBranch(reference.Name); err != nil {
					return err
				}
			} else if oid, err := r.RevParse("origin/tags/" + reference.Name); err == nil {
				if err := r.Checkout(oid); err != nil {
					return err
				}
			}
		}
	}

	return r.forceUpdateLocalReference(reference)
}

func (r *Repository) fetchRefspec(refspec string) error {
	cmd := exec.Command("git", "fetch", "--tags", "--force", "--update-head-ok", r.URL, refspec)
	cmd.Dir = r.Path
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = removeEnv(cmd.Env, "GIT_DIR")
	_, err := runMonitored(context.Background(), cmd, r.timeout)
	return err
}

// Checkout checks out the given commit-ish, then updates submodules.
func (r *Repository) Checkout(commitish string) error {
	if head, err := r.RevParse("HEAD"); err == nil && head == commitish {
		return nil
	}
	if _, err := r.run("checkout", commitish); err != nil {
		return &rverrors.VCSError{Repo: r.URL, Op: "checkout " + commitish, Stderr: err.Error()}
	}
	return r.updateSubmodules()
}

// CheckoutBranch force-creates and checks out a local branch tracking
// origin/branchName.
func (r *Repository) CheckoutBranch(branchName string) error {
	if _, err := r.run("checkout", "-B", branchName, "origin/"+branchName); err != nil {
		return &rverrors.VCSError{Repo: r.URL, Op: "checkout branch " + branchName, Stderr: err.Error()}
	}
	return r.updateSubmodules()
}

func (r *Repository) checkoutHead() error {
	out, err := r.run("remote", "show", "origin")
	if err != nil {
		return &rverrors.VCSError{Repo: r.URL, Op: "remote show origin", Stderr: err.Error()}
	}

	var branch string
	for _, line := range strings.Split(out, "\n") {
		if t := strings.TrimSpace(line); strings.HasPrefix(t, headLinePrefix) {
			branch = strings.TrimSpace(strings.TrimPrefix(t, headLinePrefix))
		}
	}
	if branch == "" {
		return &rverrors.VCSError{Repo: r.URL, Op: "determine HEAD branch", Stderr: out}
	}
	return r.CheckoutBranch(branch)
}

// GetDescriptionFile checks out reference and reads the DESCRIPTION
// file under the given optional subdirectory.
func (r *Repository) GetDescriptionFile(reference Reference, subdir string) (string, error) {
	oid, err := r.RevParse(reference.Name)
	if err != nil {
		return "", &rverrors.VCSError{Repo: r.URL, Op: "resolve " + reference.Name, Stderr: err.Error()}
	}
	if err := r.Checkout(oid); err != nil {
		return "", err
	}

	path := r.Path
	if subdir != "" {
		path = filepath.Join(path, subdir)
	}
	path = filepath.Join(path, "DESCRIPTION")

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("DESCRIPTION file not found at %s: %w", path, err)
	}
	return string(data), nil
}

// SparseCheckout restricts the working tree to DESCRIPTION files only
// (used while probing candidate Remotes entries before a full fetch),
// then performs the fetch.
func (r *Repository) SparseCheckout(reference Reference) error {
	if _, err := r.run("sparse-checkout", "init"); err != nil {
		return &rverrors.VCSError{Repo: r.URL, Op: "sparse-checkout init", Stderr: err.Error()}
	}
	if _, err := r.run("sparse-checkout", "set", "--no-cone", "**/DESCRIPTION"); err != nil {
		return &rverrors.VCSError{Repo: r.URL, Op: "sparse-checkout set", Stderr: err.Error()}
	}
	return r.Fetch(reference)
}

// DisableSparseCheckout reverts to a full working tree.
func (r *Repository) DisableSparseCheckout() error {
	if _, err := r.run("sparse-checkout", "disable"); err != nil {
		return &rverrors.VCSError{Repo: r.URL, Op: "sparse-checkout disable", Stderr: err.Error()}
	}
	return nil
}

// RevParse resolves reference to a commit SHA. If reference already
// looks like a SHA, git returns it unchanged without validating that
// the object exists.
func (r *Repository) RevParse(reference string) (string, error) {
	out, err := r.run("rev-parse", reference)
	if err != nil {
		return "", fmt.Errorf("reference %q not found: %w", reference, err)
	}
	return strings.TrimSpace(out), nil
}

func (r *Repository) updateSubmodules() error {
	if isEnvTruthy(submoduleUpdateDisableEnvVar) {
		return nil
	}
	if _, err := r.run("submodule", "update", "--init", "--recursive"); err != nil {
		return &rverrors.VCSError{Repo: r.URL, Op: "submodule update", Stderr: err.Error()}
	}
	return nil
}

func (r *Repository) forceUpdateLocalReference(reference Reference) error {
	switch reference.Kind {
	case RefBranch:
		current, _ := r.run("branch", "--show-current")
		if strings.TrimSpace(current) == reference.Name {
			_, err := r.run("reset", "--hard", "origin/"+reference.Name)
			if err != nil {
				return &rverrors.VCSError{Repo: r.URL, Op: "reset --hard", Stderr: err.Error()}
			}
			return nil
		}
		if _, err := r.run("branch", "-f", reference.Name, "origin/"+reference.Name); err != nil {
			return &rverrors.VCSError{Repo: r.URL, Op: "branch -f", Stderr: err.Error()}
		}
	case RefTag:
		if _, err := r.run("tag", "-f", reference.Name, "origin/tags/"+reference.Name); err != nil {
			return &rverrors.VCSError{Repo: r.URL, Op: "tag -f", Stderr: err.Error()}
		}
	}
	return nil
}

func (r *Repository) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path
	return runMonitored(context.Background(), cmd, r.timeout)
}

// ResolveTagConstraint picks the highest semver-parseable tag in the
// repository cached at localPath satisfying constraint, using
// github.com/Masterminds/vcs to list tags and
// github.com/Masterminds/semver to rank them. No other package in this
// module calls it: the resolver fetches git sources by commit, branch
// or tag only.
func ResolveTagConstraint(repoURL, localPath, constraint string) (string, error) {
	repo, err := vcs.NewGitRepo(repoURL, localPath)
	if err != nil {
		return "", &rverrors.VCSError{Repo: repoURL, Op: "open for tag listing", Stderr: err.Error()}
	}
	if !repo.CheckLocal() {
		if err := repo.Get(); err != nil {
			return "", &rverrors.VCSError{Repo: repoURL, Op: "clone for tag listing", Stderr: err.Error()}
		}
	} else if err := repo.Update(); err != nil {
		return "", &rverrors.VCSError{Repo: repoURL, Op: "update for tag listing", Stderr: err.Error()}
	}

	tags, err := repo.Tags()
	if err != nil {
		return "", &rverrors.VCSError{Repo: repoURL, Op: "list tags", Stderr: err.Error()}
	}
	return bestSemverTag(tags, constraint)
}

// bestSemverTag returns the highest tag (by semver precedence) among
// tags satisfying constraint. Tags that don't parse as semver are
// skipped rather than aborting the whole search.
func bestSemverTag(tags []string, constraint string) (string, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", fmt.Errorf("invalid semver constraint %q: %w", constraint, err)
	}

	var best *semver.Version
	var bestTag string
	for _, tag := range tags {
		v, err := semver.NewVersion(strings.TrimPrefix(tag, "v"))
		if err != nil {
			continue
		}
		if c.Admits(v) != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestTag = tag
		}
	}
	if best == nil {
		return "", fmt.Errorf("no tag satisfies constraint %q", constraint)
	}
	return bestTag, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func removeEnv(env []string, key string) []string {
	out := env[:0]
	prefix := key + "="
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func isEnvTruthy(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes"
}

// runMonitored runs cmd to completion, killing it if neither stdout
// nor stderr has seen activity for timeout, or if ctx is canceled.
func runMonitored(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (string, error) {
	stdout, stderr := newActivityBuffer(), newActivityBuffer()
	cmd.Stdout, cmd.Stderr = stdout, stderr

	if err := cmd.Start(); err != nil {
		return "", err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if stderr.idleSince(timeout) && stdout.idleSince(timeout) {
				_ = cmd.Process.Kill()
				return stdout.String(), fmt.Errorf("command killed after %s of no activity", timeout)
			}
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return stdout.String(), ctx.Err()
		case err := <-done:
			if err != nil {
				return stdout.String(), fmt.Errorf("%s: %w", stderr.String(), err)
			}
			return stdout.String(), nil
		}
	}
}

// activityBuffer tracks the last time it was written to, so a
// long-hanging git subprocess can be detected and killed.
type activityBuffer struct {
	mu           sync.Mutex
	buf          bytes.Buffer
	lastActivity time.Time
}

func newActivityBuffer() *activityBuffer {
	return &activityBuffer{lastActivity: time.Now()}
}

func (b *activityBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastActivity = time.Now()
	return b.buf.Write(p)
}

func (b *activityBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *activityBuffer) idleSince(d time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity.Before(time.Now().Add(-d))
}
