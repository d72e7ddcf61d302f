// Package attachments persists issue attachments into a clone of the
// destination repository's wiki, so issue bodies can link to them with
// stable relative paths.
package attachments

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/issueforge/bbmigrate/internal/debug"
)

// attachmentsDir is the wiki subdirectory all imported files land under.
const attachmentsDir = "imported_issue_attachments"

// WikiStore is a local clone of the destination's wiki repo. Store writes
// and stages files, Commit records them per issue, Publish pushes.
type WikiStore struct {
	repo *git.Repository
	tree *git.Worktree
	dir  string
	tmp  string
	auth transport.AuthMethod
}

// NewWikiStore clones the wiki of "owner/name" over SSH into a temporary
// directory. sshIdentity optionally points at a private key file to use
// instead of the SSH agent.
func NewWikiStore(githubRepo, sshIdentity string) (*WikiStore, error) {
	url := fmt.Sprintf("ssh://git@github.com/%s.wiki.git", githubRepo)

	var auth transport.AuthMethod
	if sshIdentity != "" {
		keys, err := gitssh.NewPublicKeysFromFile("git", sshIdentity, "")
		if err != nil {
			return nil, fmt.Errorf("loading ssh identity %s: %w", sshIdentity, err)
		}
		auth = keys
	}
	return clone(url, auth)
}

func clone(url string, auth transport.AuthMethod) (*WikiStore, error) {
	tmp, err := os.MkdirTemp("", "bbmigrate-wiki-")
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(tmp, "wiki_checkout")

	debug.PrintNormal("Cloning %s into %s...\n", url, dir)
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{URL: url, Auth: auth})
	if err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("cloning wiki %s: %w", url, err)
	}
	tree, err := repo.Worktree()
	if err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, attachmentsDir), 0o755); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	return &WikiStore{repo: repo, tree: tree, dir: dir, tmp: tmp, auth: auth}, nil
}

// Store writes one attachment into the checkout, stages it, and returns the
// wiki-relative link issue bodies should use.
func (s *WikiStore) Store(issueID int, filename string, data []byte) (string, error) {
	rel := path.Join(attachmentsDir, strconv.Itoa(issueID), filename)
	abs := filepath.Join(s.dir, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", err
	}
	if _, err := s.tree.Add(rel); err != nil {
		return "", fmt.Errorf("staging %s: %w", rel, err)
	}
	return fmt.Sprintf("../wiki/%s/%d/%s", attachmentsDir, issueID, filename), nil
}

// Commit records everything staged for one issue.
func (s *WikiStore) Commit(issueID int) error {
	_, err := s.tree.Commit(
		fmt.Sprintf("Imported attachments for issue %d", issueID),
		&git.CommitOptions{
			Author: &object.Signature{
				Name:  "bbmigrate",
				Email: "bbmigrate@localhost",
				When:  time.Now(),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("committing attachments for issue %d: %w", issueID, err)
	}
	return nil
}

// Publish pushes the committed attachments to the remote wiki.
func (s *WikiStore) Publish() error {
	err := s.repo.Push(&git.PushOptions{Auth: s.auth})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Close removes the temporary checkout.
func (s *WikiStore) Close() error {
	return os.RemoveAll(s.tmp)
}
