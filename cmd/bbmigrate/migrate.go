package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/issueforge/bbmigrate/internal/attachments"
	"github.com/issueforge/bbmigrate/internal/bitbucket"
	"github.com/issueforge/bbmigrate/internal/config"
	"github.com/issueforge/bbmigrate/internal/convert"
	"github.com/issueforge/bbmigrate/internal/debug"
	"github.com/issueforge/bbmigrate/internal/github"
	"github.com/issueforge/bbmigrate/internal/pipeline"
	"github.com/issueforge/bbmigrate/internal/registry"
	"github.com/issueforge/bbmigrate/internal/sequencer"
)

var (
	dryRun             bool
	skip               int
	mapUsers           []string
	bbUsername         string
	skipAttribution    string
	linkChangesets     bool
	mentionAttachments bool
	attachmentsWiki    bool
	gitSSHIdentity     string
	mentionChanges     bool
	configPath         string
	verboseFlag        bool
	quietFlag          bool
)

var successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)

var rootCmd = &cobra.Command{
	Use:   "bbmigrate <bitbucket_repo> <github_repo> <github_username>",
	Short: "Migrate issues from a Bitbucket tracker to GitHub",
	Long: `Migrate a Bitbucket repository's issue tracker to GitHub issues.

Repositories are given as <owner>/<name>. Issues, comments, and change
history are pushed through GitHub's issue import API so that issue numbers
stay identical across the migration; gaps left by deleted Bitbucket issues
are filled with closed placeholder issues.

Credentials come from the environment: BBMIGRATE_GITHUB_TOKEN holds the
GitHub personal access token, and BBMIGRATE_BITBUCKET_PASSWORD the
Bitbucket password when --bb-user is given for a private tracker.`,
	Args:          cobra.ExactArgs(3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigrate,
}

func init() {
	viper.SetEnvPrefix("BBMIGRATE")
	viper.AutomaticEnv()

	flags := rootCmd.Flags()
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "Convert everything but push nothing to GitHub")
	flags.IntVarP(&skip, "skip", "f", 0, "Number of Bitbucket issue ids to skip from the start")
	flags.StringArrayVarP(&mapUsers, "map-user", "m", nil, "Override a username mapping, e.g. --map-user fk=fkrull (repeatable)")
	flags.StringVarP(&bbUsername, "bb-user", "u", "", "Bitbucket username, needed only for private trackers")
	flags.StringVar(&skipAttribution, "skip-attribution-for", "", "Bitbucket user whose content keeps no attribution header")
	flags.BoolVar(&linkChangesets, "link-changesets", false, "Link changeset references back to Bitbucket instead of dropping them")
	flags.BoolVar(&mentionAttachments, "mention-attachments", false, "List attachment names in issue bodies")
	flags.BoolVar(&attachmentsWiki, "attachments-wiki", false, "Commit attachments to the GitHub wiki and link them from issue bodies")
	flags.StringVar(&gitSSHIdentity, "git-ssh-identity", "", "SSH identity file for the wiki clone")
	flags.BoolVar(&mentionChanges, "mention-changes", false, "Emit issue change history as comments")
	flags.StringVar(&configPath, "use-config", "config.yml", "Path to the YAML run configuration")
	flags.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	flags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
}

// bbSource adapts the bitbucket client to the pipeline's Source interface;
// the concrete issue stream type needs re-wrapping as the sequencer input.
type bbSource struct {
	*bitbucket.Client
}

func (s bbSource) Issues(offset int) sequencer.Source {
	return s.Client.Issues(offset)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if attachmentsWiki && mentionAttachments {
		return fmt.Errorf("--mention-attachments and --attachments-wiki are mutually exclusive")
	}
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bitbucketRepo, githubRepo, githubUsername := args[0], args[1], args[2]

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	githubToken := viper.GetString("github_token")
	if githubToken == "" && !dryRun {
		return fmt.Errorf("BBMIGRATE_GITHUB_TOKEN is not set")
	}

	bb := bitbucket.NewClient(bitbucketRepo)
	if bbUsername != "" {
		password := viper.GetString("bitbucket_password")
		if password == "" {
			return fmt.Errorf("--bb-user given but BBMIGRATE_BITBUCKET_PASSWORD is not set")
		}
		bb = bb.WithAuth(bbUsername, password)
	}
	if err := bb.CheckRepo(ctx); err != nil {
		return err
	}

	owner, repo, ok := strings.Cut(githubRepo, "/")
	if !ok {
		return fmt.Errorf("github repository %q is not in <owner>/<name> form", githubRepo)
	}
	gh := github.NewClient(githubUsername, githubToken, owner, repo)
	if err := gh.CheckRepo(ctx); err != nil {
		return err
	}

	userMap, err := parseUserMap(mapUsers)
	if err != nil {
		return err
	}

	var labelSvc registry.LabelService = gh
	var milestoneSvc registry.MilestoneService = gh
	if dryRun {
		labelSvc = registry.DryRunLabelService{LabelService: gh}
		milestoneSvc = &registry.DryRunMilestoneService{MilestoneService: gh}
	}
	labels, err := registry.NewLabels(ctx, labelSvc, cfg.LabelTranslations)
	if err != nil {
		return err
	}
	milestones, err := registry.NewMilestones(ctx, milestoneSvc)
	if err != nil {
		return err
	}

	converter, err := convert.New(cfg, convert.Options{
		BitbucketRepo:      bitbucketRepo,
		SkipUser:           skipAttribution,
		UserMap:            userMap,
		LinkChangesets:     linkChangesets,
		AttachmentsWiki:    attachmentsWiki,
		MentionAttachments: mentionAttachments,
	}, labels, milestones, gh)
	if err != nil {
		return err
	}

	mode := pipeline.AttachmentsOff
	var store pipeline.AttachmentStore
	switch {
	case attachmentsWiki:
		mode = pipeline.AttachmentsWiki
		wiki, err := attachments.NewWikiStore(githubRepo, gitSSHIdentity)
		if err != nil {
			return err
		}
		defer wiki.Close()
		store = wiki
	case mentionAttachments:
		mode = pipeline.AttachmentsMention
	}

	pipe := pipeline.New(gh, pipeline.Config{DryRun: dryRun})
	runner := &pipeline.Runner{
		Pipe:           pipe,
		Source:         bbSource{bb},
		Converter:      converter,
		Store:          store,
		Mode:           mode,
		MentionChanges: mentionChanges,
		Offset:         skip,
		DryRun:         dryRun,
	}

	debug.PrintNormal("getting issues from bitbucket\n")
	if err := runner.Run(ctx); err != nil {
		return err
	}

	if dryRun {
		debug.PrintNormal("%s\n", successStyle.Render("Dry run complete; nothing was pushed."))
	} else {
		debug.PrintNormal("%s\n", successStyle.Render("Migration complete."))
	}
	return nil
}

func parseUserMap(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	users := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		from, to, ok := strings.Cut(pair, "=")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("--map-user %q is not in <bitbucket>=<github> form", pair)
		}
		users[from] = to
	}
	return users, nil
}
