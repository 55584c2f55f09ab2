package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	resp   string
	err    error
	got    Prompt
	model  string
	waitOn bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, model string, prompt Prompt) (string, error) {
	p.got = prompt
	p.model = model
	if p.waitOn {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.resp, p.err
}

func TestContentGeneratorGenerate(t *testing.T) {
	p := &fakeProvider{resp: "```markdown\n# Edited\n```"}
	g := NewContentGenerator(p, "m1", time.Second)
	out, err := g.Generate(context.Background(), "# Doc\n\n## Intro\nhello\n## Next\nbye", `fix #intro: "hello"`, []string{"Ann: make it louder"})
	require.NoError(t, err)
	require.Equal(t, "# Edited", out)
	require.Equal(t, "m1", p.model)
	require.Equal(t, "fake/m1", g.Name())
	require.Contains(t, p.got.User, "Document to edit:\n# Doc")
	require.Contains(t, p.got.User, "Ann: make it louder")
	require.Contains(t, p.got.User, "Section \"intro\" (user highlighted: \"hello\"):\n## Intro\nhello\n")
	require.Contains(t, p.got.User, "Command: fix #intro: \"hello\"")
	require.NotContains(t, p.got.User, "## Next")
	require.Equal(t, editSystemPrompt, p.got.System)
}

func TestContentGeneratorErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewContentGenerator(&fakeProvider{resp: "x"}, "m", 0).Generate(ctx, "doc", "  ", nil)
	require.Error(t, err)

	_, err = NewContentGenerator(&fakeProvider{resp: "   "}, "m", 0).Generate(ctx, "doc", "do", nil)
	require.Error(t, err)

	boom := errors.New("boom")
	_, err = NewContentGenerator(&fakeProvider{err: boom}, "m", 0).Generate(ctx, "doc", "do", nil)
	require.ErrorIs(t, err, boom)

	_, err = NewContentGenerator(&fakeProvider{waitOn: true}, "m", 10*time.Millisecond).Generate(ctx, "doc", "do", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFindSections(t *testing.T) {
	doc := strings.Join([]string{
		"# Plan",
		"## Getting Started!",
		"step",
		"### Detail",
		"more",
		"## Later",
		"end",
	}, "\n")

	sections := FindSections(`expand #getting-started: "step" and #missing: "x"`, doc)
	require.Len(t, sections, 1)
	require.Equal(t, "getting-started", sections[0].ID)
	require.Equal(t, "step", sections[0].Quote)
	require.Equal(t, "## Getting Started!\nstep\n### Detail\nmore", sections[0].Content)

	require.Nil(t, FindSections("no references", doc))
}

func TestSlug(t *testing.T) {
	require.Equal(t, "hello-world", Slug("  Hello,   World "))
	require.Equal(t, "a-b", Slug("a -- b"))
	require.Len(t, Slug(strings.Repeat("ab ", 40)), 50)
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider("", nil)
	require.Error(t, err)
	_, err = NewProvider("nope", map[string]interface{}{})
	require.Error(t, err)
	_, err = NewProvider("openai", nil)
	require.Error(t, err)

	p, err := NewProvider("Gemini", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "m", Prompt{User: "x"})
	require.ErrorIs(t, err, ErrUnavailable)
}
