package convert

import (
	"fmt"
	"regexp"
	"strings"
)

var dateRE = regexp.MustCompile(`(\d\d\d\d-\d\d-\d\d)T(\d\d:\d\d:\d\d)`)

// Date rewrites a Bitbucket timestamp ("2012-11-26T09:59:39+00:00") into the
// form the import API accepts ("2012-11-26T09:59:39Z").
func Date(bbDate string) (string, error) {
	m := dateRE.FindStringSubmatch(bbDate)
	if m == nil {
		return "", fmt.Errorf("could not parse date %q", bbDate)
	}
	return m[1] + "T" + m[2] + "Z", nil
}

var (
	csetLinkRE = regexp.MustCompile(` ([a-f0-9]{6,40})\b`)
	digitRE    = regexp.MustCompile(`[0-9]`)
)

// changesets handles "→ <<cset 22f3981d50c8>>" references. They point at
// mercurial changesets with no git counterpart, so by default the whole line
// is dropped. With linking enabled, sha-looking tokens become links back to
// the Bitbucket commit instead.
func (c *Converter) changesets(content string) string {
	if c.opts.LinkChangesets {
		return csetLinkRE.ReplaceAllStringFunc(content, func(match string) string {
			sha := match[1:]
			// Short tokens need a digit, or plain words like "deadbeef"
			// prose would get linked.
			if len(sha) < 8 && !digitRE.MatchString(sha) {
				return match
			}
			return fmt.Sprintf(" [%s (bb)](https://bitbucket.org/%s/commits/%s)", sha, c.opts.BitbucketRepo, sha)
		})
	}
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "→ <<cset") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// creoleBraces converts Creole {{{ }}} code markup to Markdown: four-space
// indentation for block form, backticks for inline form.
func creoleBraces(content string) string {
	var lines []string
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "{{{") || strings.HasPrefix(line, "}}}"):
			if idx := strings.Index(line, "{{{"); idx >= 0 {
				lines = append(lines, "    "+line[idx+3:])
				inBlock = true
			}
			if idx := strings.Index(line, "}}}"); idx >= 0 {
				lines = append(lines, "    "+line[:idx])
				inBlock = false
			}
		case inBlock:
			lines = append(lines, "    "+line)
		default:
			line = strings.ReplaceAll(line, "{{{", "`")
			line = strings.ReplaceAll(line, "}}}", "`")
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// issueLinks rewrites absolute links to this repository's issues into
// relative "#n" references.
func (c *Converter) issueLinks(content string) string {
	pattern := regexp.QuoteMeta("https://bitbucket.org/"+c.opts.BitbucketRepo+"/issue/") + `(\d+)`
	return regexp.MustCompile(pattern).ReplaceAllString(content, "#$1")
}

var mentionRE = regexp.MustCompile(`(^|[^\w])@([a-zA-Z0-9_-]+)\b`)

// mentions rewrites @user references through the username map so they point
// at the right GitHub account.
func (c *Converter) mentions(content string) string {
	return mentionRE.ReplaceAllStringFunc(content, func(match string) string {
		sub := mentionRE.FindStringSubmatch(match)
		name := sub[2]
		if mapped, ok := c.opts.UserMap[name]; ok && mapped != "" {
			name = mapped
		}
		return sub[1] + "@" + name
	})
}

// body runs every content transform in order.
func (c *Converter) body(content string) string {
	content = c.changesets(content)
	content = creoleBraces(content)
	content = c.issueLinks(content)
	content = c.mentions(content)
	return content
}
