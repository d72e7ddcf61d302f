package convert

import (
	"context"
	"strings"

	"github.com/issueforge/bbmigrate/internal/types"
)

// UserChecker verifies whether a username exists on GitHub. The github
// client implements it; ok is false for a 404.
type UserChecker interface {
	LookupUser(ctx context.Context, username string) (login string, ok bool, err error)
}

// githubUsername resolves a Bitbucket username to a GitHub one. Explicit
// mappings win; otherwise the same username is probed on GitHub and the
// answer memoized. An empty result means no matching GitHub account.
func (c *Converter) githubUsername(ctx context.Context, username string) (string, error) {
	if mapped, ok := c.users[username]; ok {
		return mapped, nil
	}

	login, ok, err := c.checker.LookupUser(ctx, username)
	if err != nil {
		return "", err
	}
	if !ok {
		login = ""
	}
	c.users[username] = login
	return login, nil
}

type userData struct {
	BitbucketUsername string
	GitHubUsername    string
	BitbucketBadge    string
	GitHubBadge       string
	DisplayName       string
}

type badgeData struct {
	User string
}

// author renders a user reference for issue and comment bodies: "Anonymous"
// for missing users, otherwise their name plus profile badges. The GitHub
// badge is only emitted when the account actually exists there.
func (c *Converter) author(ctx context.Context, user *types.User) (string, error) {
	if user == nil {
		return "Anonymous", nil
	}
	return c.FormatUser(ctx, user.Username, user.DisplayName)
}

// FormatUser renders a user reference from a raw username and display name.
func (c *Converter) FormatUser(ctx context.Context, username, displayName string) (string, error) {
	bbBadge, err := render(c.tmplBBUser, badgeData{User: username})
	if err != nil {
		return "", err
	}

	ghName, err := c.githubUsername(ctx, username)
	if err != nil {
		return "", err
	}
	var ghBadge string
	if ghName != "" {
		ghBadge, err = render(c.tmplGHUser, badgeData{User: ghName})
		if err != nil {
			return "", err
		}
	}

	out, err := render(c.tmplUser, userData{
		BitbucketUsername: username,
		GitHubUsername:    ghName,
		BitbucketBadge:    strings.TrimSpace(bbBadge),
		GitHubBadge:       strings.TrimSpace(ghBadge),
		DisplayName:       displayName,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
