// Package config loads the YAML run configuration: body templates, label
// renames, and which issue states become labels.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the run configuration. Template fields are Go text/template
// sources; the data each one receives is documented on the convert package.
type Config struct {
	IssueTemplate           string `yaml:"issue_template"`
	IssueTemplateSkipUser   string `yaml:"issue_template_skip_user"`
	CommentTemplate         string `yaml:"comment_template"`
	CommentTemplateSkipUser string `yaml:"comment_template_skip_user"`
	ChangeTemplate          string `yaml:"change_template"`

	UserTemplate              string `yaml:"user_template"`
	BitbucketUsernameTemplate string `yaml:"bitbucket_username_template"`
	GitHubUsernameTemplate    string `yaml:"github_username_template"`

	LinkedAttachmentsTemplate    string `yaml:"linked_attachments_template"`
	NamesOnlyAttachmentsTemplate string `yaml:"names_only_attachments_template"`

	// StatesAsLabels lists the issue states that are carried over as labels
	// in addition to driving the open/closed flag.
	StatesAsLabels []string `yaml:"states_as_labels"`

	// LabelTranslations renames labels on the way over. Mapping a label to
	// "(none)" discards it.
	LabelTranslations map[string]string `yaml:"label_translations"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		IssueTemplate: `**Original report by {{.Reporter}}.**

{{.Sep}}

{{.Content}}{{.Attachments}}`,
		IssueTemplateSkipUser: `{{.Content}}{{.Attachments}}`,
		CommentTemplate: `**Original comment by {{.Author}}.**

{{.Sep}}

{{.Content}}`,
		CommentTemplateSkipUser: `{{.Content}}`,
		ChangeTemplate: `**Original changes by {{.Author}}.**

{{.Sep}}

{{.Changes}}`,
		UserTemplate:              `{{if .DisplayName}}{{.DisplayName}} ({{.BitbucketBadge}}{{if .GitHubBadge}}, {{.GitHubBadge}}{{end}}){{else}}{{.BitbucketBadge}}{{if .GitHubBadge}}, {{.GitHubBadge}}{{end}}{{end}}`,
		BitbucketUsernameTemplate: `[{{.User}}](https://bitbucket.org/{{.User}})`,
		GitHubUsernameTemplate:    `[{{.User}}](https://github.com/{{.User}})`,
		LinkedAttachmentsTemplate: `

{{.Sep}}

Attachments: {{.AttachmentLinks}}`,
		NamesOnlyAttachmentsTemplate: `

{{.Sep}}

Attachments: {{.AttachmentNames}}`,
		StatesAsLabels: []string{"on hold", "invalid", "duplicate", "wontfix"},
	}
}

// Load reads a YAML config file and merges it over the defaults. Keys absent
// from the file keep their default values. A missing file yields the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
