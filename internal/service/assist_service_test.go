package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
	"github.com/xxxsen/lavadoc/internal/repo"
)

type fakeGenerator struct {
	calls       int
	gotContent  string
	gotHints    []string
	result      string
	err         error
	duringCalls func()
}

func (g *fakeGenerator) Generate(ctx context.Context, content, instruction string, hints []string) (string, error) {
	g.calls++
	g.gotContent = content
	g.gotHints = hints
	if g.duringCalls != nil {
		g.duringCalls()
	}
	if g.err != nil {
		return "", g.err
	}
	if g.result != "" {
		return g.result, nil
	}
	return content + "\n" + strings.ToUpper(instruction), nil
}

func TestAssistApply(t *testing.T) {
	f := newFixture(t, 100)
	gen := &fakeGenerator{}
	assist := NewAssistService(f.docs, gen)
	require.True(t, assist.Enabled())

	res, err := assist.Apply(context.Background(), "alice", "shout", []string{"alice: hi"})
	require.NoError(t, err)
	require.Equal(t, OutcomeMutated, res.Outcome)
	require.Equal(t, "# Welcome\nSHOUT", res.Document.Content)
	require.Equal(t, 2, res.Document.Version)
	require.Equal(t, "alice", res.Document.LastEditor)
	require.Equal(t, "# Welcome", gen.gotContent)
	require.Equal(t, []string{"alice: hi"}, gen.gotHints)
	require.Empty(t, f.sink.all())
}

func TestAssistGeneratorFailure(t *testing.T) {
	f := newFixture(t, 100)
	boom := errors.New("timeout")
	assist := NewAssistService(f.docs, &fakeGenerator{err: boom})

	_, err := assist.Apply(context.Background(), "alice", "shout", nil)
	require.ErrorIs(t, err, appErr.ErrGeneratorFailed)
	require.ErrorIs(t, err, boom)

	head, err := f.docs.GetDocument(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, head.Version)
}

func TestAssistConflictWhenHeadMovesDuringGeneration(t *testing.T) {
	f := newFixture(t, 100)
	gen := &fakeGenerator{}
	gen.duringCalls = func() {
		f.update(t, "someone else was faster", "bob")
	}
	assist := NewAssistService(f.docs, gen)

	_, err := assist.Apply(context.Background(), "alice", "shout", nil)
	require.ErrorIs(t, err, appErr.ErrConflict)
	conflict, ok := appErr.AsConflict(err)
	require.True(t, ok)
	require.Equal(t, 1, conflict.ExpectedVersion)
	require.Equal(t, 2, conflict.CurrentVersion)
	require.Equal(t, 1, gen.calls)
	require.Len(t, f.sink.all(), 1)

	head, err := f.docs.GetDocument(context.Background())
	require.NoError(t, err)
	require.Equal(t, "someone else was faster", head.Content)
}

func TestAssistDisabled(t *testing.T) {
	f := newFixture(t, 100)
	var nilAssist *AssistService
	require.False(t, nilAssist.Enabled())

	_, err := NewAssistService(f.docs, nil).Apply(context.Background(), "a", "b", nil)
	require.ErrorIs(t, err, appErr.ErrUnavailable)

	_, err = NewAssistService(f.docs, &fakeGenerator{}).Apply(context.Background(), "a", " ", nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestAssistInstruction(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{text: "@lava add a summary", want: "add a summary", ok: true},
		{text: "hey @LAVA   fix typos\nplease", want: "fix typos\nplease", ok: true},
		{text: "no command here", ok: false},
		{text: "@lava", ok: false},
		{text: "@lavaX do it", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := AssistInstruction(tt.text)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestChatSend(t *testing.T) {
	store := repo.NewMemoryStore()
	f := newFixtureWithStore(t, store, 100)
	sink := NewMessageSink(store, 100)
	chat := NewChatService(store, 100, nil, sink)
	ctx := context.Background()

	res, err := chat.Send(ctx, " alice ", " hello ")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Message.Nickname)
	require.Equal(t, "hello", res.Message.Text)
	require.NotEmpty(t, res.Message.ID)
	require.False(t, res.DocumentUpdated)

	res, err = chat.Send(ctx, "alice", "@lava do things")
	require.NoError(t, err)
	require.False(t, res.DocumentUpdated)

	head, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, head.Version)

	_, err = chat.Send(ctx, "", "x")
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = chat.Send(ctx, "alice", strings.Repeat("x", maxMessageChars+1))
	require.ErrorIs(t, err, appErr.ErrInvalid)

	msgs, err := chat.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestChatSendRunsAssist(t *testing.T) {
	store := repo.NewMemoryStore()
	f := newFixtureWithStore(t, store, 100)
	sink := NewMessageSink(store, 100)
	gen := &fakeGenerator{}
	chat := NewChatService(store, 100, NewAssistService(f.docs, gen), sink)
	ctx := context.Background()

	_, err := chat.Send(ctx, "bob", "let's make it loud")
	require.NoError(t, err)
	res, err := chat.Send(ctx, "alice", "@lava shout")
	require.NoError(t, err)
	require.True(t, res.DocumentUpdated)
	require.Equal(t, 2, res.Document.Version)
	require.Equal(t, []string{"bob: let's make it loud", "alice: @lava shout"}, gen.gotHints)

	msgs, err := chat.List(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "Document updated by alice using @lava", msgs[len(msgs)-1].Text)
	require.Equal(t, SystemActor, msgs[len(msgs)-1].Nickname)

	gen.err = errors.New("quota")
	res, err = chat.Send(ctx, "alice", "@lava again")
	require.NoError(t, err)
	require.False(t, res.DocumentUpdated)
	msgs, err = chat.List(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "Error: Failed to update document with @lava command", msgs[len(msgs)-1].Text)
}

func TestChatAssistEditAnnouncedOnce(t *testing.T) {
	store := repo.NewMemoryStore()
	sink := NewMessageSink(store, 100)
	docs := NewDocumentService(store, sink, DocumentOptions{VersionKeep: 100, InitialContent: "# Welcome"})
	chat := NewChatService(store, 100, NewAssistService(docs, &fakeGenerator{}), sink)
	ctx := context.Background()

	res, err := chat.Send(ctx, "alice", "@lava shout")
	require.NoError(t, err)
	require.True(t, res.DocumentUpdated)

	msgs, err := chat.List(ctx, 0)
	require.NoError(t, err)
	var system []string
	for _, m := range msgs {
		if m.Nickname == SystemActor {
			system = append(system, m.Text)
		}
	}
	require.Equal(t, []string{"Document updated by alice using @lava"}, system)
}

func TestChatLogCapped(t *testing.T) {
	store := repo.NewMemoryStore()
	chat := NewChatService(store, 100, nil, nil)
	ctx := context.Background()
	for i := 0; i < 105; i++ {
		_, err := chat.Send(ctx, "alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	msgs, err := chat.List(ctx, 500)
	require.NoError(t, err)
	require.Len(t, msgs, 100)
	require.Equal(t, "msg 5", msgs[0].Text)
	require.Equal(t, "msg 104", msgs[99].Text)
}

func TestSinks(t *testing.T) {
	store := repo.NewMemoryStore()
	rec := &recordingSink{}
	multi := MultiSink{NewMessageSink(store, 2), LogSink{}, rec, nil}
	ctx := context.Background()
	multi.Post(ctx, "", "one")
	multi.Post(ctx, "bob", "two")
	multi.Post(ctx, "bob", "three")

	msgs, err := store.ListMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "bob", msgs[0].Nickname)
	require.Equal(t, []string{": one", "bob: two", "bob: three"}, rec.all())
}
