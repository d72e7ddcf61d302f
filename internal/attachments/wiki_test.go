package attachments

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRemote builds a bare "wiki" repo seeded with one commit, the way a
// real GitHub wiki has at least a Home page.
func setupRemote(t *testing.T) string {
	t.Helper()

	bare := filepath.Join(t.TempDir(), "wiki.git")
	_, err := git.PlainInit(bare, true)
	require.NoError(t, err)

	seedDir := filepath.Join(t.TempDir(), "seed")
	seed, err := git.PlainInit(seedDir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "Home.md"), []byte("wiki home"), 0o644))

	tree, err := seed.Worktree()
	require.NoError(t, err)
	_, err = tree.Add("Home.md")
	require.NoError(t, err)
	_, err = tree.Commit("seed wiki", &git.CommitOptions{
		Author: &object.Signature{Name: "seed", Email: "seed@localhost", When: time.Now()},
	})
	require.NoError(t, err)

	_, err = seed.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)
	require.NoError(t, seed.Push(&git.PushOptions{}))

	return bare
}

func TestWikiStoreRoundTrip(t *testing.T) {
	remote := setupRemote(t)

	store, err := clone(remote, nil)
	require.NoError(t, err)
	defer store.Close()

	link, err := store.Store(7, "log.txt", []byte("file-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "../wiki/imported_issue_attachments/7/log.txt", link)

	onDisk, err := os.ReadFile(filepath.Join(store.dir, "imported_issue_attachments", "7", "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file-bytes", string(onDisk))

	require.NoError(t, store.Commit(7))
	require.NoError(t, store.Publish())

	// The push landed: the bare repo's head commit is the attachment commit.
	published, err := git.PlainOpen(remote)
	require.NoError(t, err)
	head, err := published.Head()
	require.NoError(t, err)
	commit, err := published.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Imported attachments for issue 7", commit.Message)
}

func TestWikiStorePublishUpToDate(t *testing.T) {
	remote := setupRemote(t)

	store, err := clone(remote, nil)
	require.NoError(t, err)
	defer store.Close()

	// Nothing committed: push reports already-up-to-date, not an error.
	assert.NoError(t, store.Publish())
}

func TestWikiStoreCloneFailure(t *testing.T) {
	_, err := clone(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	assert.Error(t, err)
}
