package model

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"gopkg.in/yaml.v3"
)

// HTMLToMarkdown is the external collaborator from spec §1/§6: "assume a
// function html_to_markdown(str) -> str". It is a package variable so tests
// can substitute a deterministic stub; the default wires in the real
// converter.
var HTMLToMarkdown = defaultHTMLToMarkdown

var converter = md.NewConverter("", true, nil)

func defaultHTMLToMarkdown(html string) (string, error) {
	return converter.ConvertString(html)
}

// frontMatter mirrors pkg/fuse/markdown.go's FrontMatter struct (teacher),
// generalized into the key set spec §3 names. omitempty on every optional
// field implements "Front-matter fields omit keys whose values are
// empty/none."
type frontMatter struct {
	Title       string   `yaml:"title"`
	Author      string   `yaml:"author,omitempty"`
	Date        string   `yaml:"date,omitempty"`
	URL         string   `yaml:"url"`
	Feed        string   `yaml:"feed"`
	Tags        []string `yaml:"tags,omitempty"`
	Categories  []string `yaml:"categories,omitempty"`
	Description string   `yaml:"description,omitempty"`
	GUID        string   `yaml:"guid,omitempty"`
}

// RenderMarkdown produces the deterministic rendering from spec §3: a YAML
// front-matter block, a blank line, then the Markdown body.
func RenderMarkdown(a Article, feedName string) string {
	fm := frontMatter{
		Title:       a.Title,
		Author:      a.Author,
		URL:         a.Link,
		Feed:        feedName,
		Tags:        nonEmptyTags(a.Tags),
		Description: a.Description,
		GUID:        a.ID,
	}
	if a.Published != nil {
		fm.Date = a.Published.UTC().Format("2006-01-02T15:04:05Z07:00")
	} else if a.Updated != nil {
		fm.Date = a.Updated.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(&fm)
	_ = enc.Close()
	buf.WriteString("---\n\n")

	source := a.Content
	if source == "" {
		source = a.Description
	}

	body, err := HTMLToMarkdown(source)
	if err != nil {
		body = source
	}
	body = normalizeWhitespace(body)

	if !strings.HasPrefix(strings.TrimSpace(body), "#") {
		body = "# Article Content\n\n" + body
	}

	buf.WriteString(body)
	return buf.String()
}

func nonEmptyTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	return tags
}

var (
	whitespaceRun = regexp.MustCompile(`[ \t]+`)
	tripleNewline = regexp.MustCompile(`\n{3,}`)
)

// normalizeWhitespace applies spec §3's body normalization: runs of
// horizontal whitespace collapse to a single space, three-or-more newlines
// collapse to exactly two, and the result always ends with exactly one
// trailing newline.
func normalizeWhitespace(s string) string {
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = tripleNewline.ReplaceAllString(s, "\n\n")
	s = strings.TrimRight(s, "\n")
	return s + "\n"
}

var illegalFilenameChars = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]`)

// MarkdownFilename derives the "{sanitized_title}.md" filename from spec §3.
func MarkdownFilename(title string) string {
	sanitized := illegalFilenameChars.ReplaceAllString(title, "-")
	if len(sanitized) > 100 {
		sanitized = sanitized[:97] + "..."
	}
	return sanitized + ".md"
}

// ErrorPlaceholderFilename builds the name of the error placeholder file
// spec §7 describes for a feed with no cached fallback.
func ErrorPlaceholderFilename(feedName string) string {
	return fmt.Sprintf("❌ Error loading %s.md", feedName)
}

// LoadingPlaceholderFilename builds the name of the loading placeholder file
// spec §4.H step 5 seeds when a feed is first announced.
func LoadingPlaceholderFilename(feedName string) string {
	return fmt.Sprintf("⏳ Loading %s....md", feedName)
}
