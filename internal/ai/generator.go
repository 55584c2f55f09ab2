package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const editSystemPrompt = `You are a PRECISE document editor.

Your job: Execute the EXACT edit requested. Nothing more, nothing less.
- Apply formatting exactly as requested
- Move or delete text precisely
- Do not add creative flourishes
- Do not explain your changes
- Use the conversation to resolve references like "that paragraph"
- Pay special attention to any referenced sections
- Return ONLY the complete edited markdown document`

const editTemperature = 0.1

var (
	sectionRefPattern = regexp.MustCompile(`(?i)#([a-z0-9-]+):\s*"([^"]+)"`)
	headingPattern    = regexp.MustCompile(`^(#{1,6})\s+(.+)`)
	slugStripPattern  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpacePattern  = regexp.MustCompile(`\s+`)
	slugDashPattern   = regexp.MustCompile(`-+`)
)

// Section is a part of the document an instruction points at with
// `#<heading-slug>: "quoted text"`.
type Section struct {
	ID      string
	Quote   string
	Content string
}

// ContentGenerator turns (current content, instruction, hints) into the next
// document body using a configured provider.
type ContentGenerator struct {
	provider IProvider
	model    string
	timeout  time.Duration
}

func NewContentGenerator(provider IProvider, model string, timeout time.Duration) *ContentGenerator {
	return &ContentGenerator{provider: provider, model: model, timeout: timeout}
}

func (g *ContentGenerator) Name() string {
	return g.provider.Name() + "/" + g.model
}

func (g *ContentGenerator) Generate(ctx context.Context, content, instruction string, hints []string) (string, error) {
	if strings.TrimSpace(instruction) == "" {
		return "", fmt.Errorf("instruction is required")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	prompt := Prompt{
		System:      editSystemPrompt,
		User:        buildEditPrompt(content, instruction, hints, FindSections(instruction, content)),
		Temperature: editTemperature,
	}
	resp, err := g.provider.Generate(ctx, g.model, prompt)
	if err != nil {
		return "", err
	}
	text := stripFence(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func buildEditPrompt(content, instruction string, hints []string, sections []Section) string {
	var sb strings.Builder
	sb.WriteString("Document to edit:\n")
	sb.WriteString(content)
	sb.WriteString("\n")
	if len(hints) > 0 {
		sb.WriteString("\nRecent conversation for context:\n")
		for _, h := range hints {
			sb.WriteString(h)
			sb.WriteString("\n")
		}
	}
	if len(sections) > 0 {
		sb.WriteString("\nReferenced sections (pay special attention to these):\n")
		for i, s := range sections {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "Section \"%s\" (user highlighted: \"%s\"):\n%s\n", s.ID, s.Quote, s.Content)
		}
	}
	sb.WriteString("\nCommand: ")
	sb.WriteString(instruction)
	sb.WriteString("\n\nExecute this edit precisely and return the complete edited document.")
	return sb.String()
}

// FindSections resolves every section reference in instruction against the
// headings of content. A section runs until the next heading of the same or a
// higher level. Unknown references are skipped.
func FindSections(instruction, content string) []Section {
	matches := sectionRefPattern.FindAllStringSubmatch(instruction, -1)
	if len(matches) == 0 {
		return nil
	}
	lines := strings.Split(content, "\n")
	var out []Section
	for _, m := range matches {
		id := strings.ToLower(m[1])
		start, level := -1, 0
		for i, line := range lines {
			h := headingPattern.FindStringSubmatch(line)
			if h != nil && Slug(h[2]) == id {
				start, level = i, len(h[1])
				break
			}
		}
		if start < 0 {
			continue
		}
		end := len(lines)
		for i := start + 1; i < len(lines); i++ {
			h := headingPattern.FindStringSubmatch(lines[i])
			if h != nil && len(h[1]) <= level {
				end = i
				break
			}
		}
		out = append(out, Section{
			ID:      id,
			Quote:   m[2],
			Content: strings.Join(lines[start:end], "\n"),
		})
	}
	return out
}

// Slug is the anchor id clients derive from a heading's text.
func Slug(heading string) string {
	s := strings.ToLower(strings.TrimSpace(heading))
	s = slugStripPattern.ReplaceAllString(s, "")
	s = slugSpacePattern.ReplaceAllString(s, "-")
	s = slugDashPattern.ReplaceAllString(s, "-")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}

func stripFence(s string) string {
	clean := strings.TrimSpace(s)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	clean = strings.TrimPrefix(clean, "```markdown")
	clean = strings.TrimPrefix(clean, "```md")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}
