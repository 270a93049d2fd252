package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/voiceagent-go"
	"github.com/codewandler/voiceagent-go/conversation"
	"github.com/codewandler/voiceagent-go/memory"
)

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	rootCmd.Flags().VisitAll(reset)

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestRootCommand_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestToolsCommand(t *testing.T) {
	t.Setenv("TZ", "")
	out, err := execute(t, "tools", "--timezone", "Europe/Berlin")
	require.NoError(t, err)

	var defs []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &defs))

	var names []string
	for _, d := range defs {
		assert.Equal(t, "function", d.Type)
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"set_memory",
		"create_calendar_event",
		"check_calendar",
		"update_calendar_event",
		"delete_calendar_event",
		"create_task_event",
	}, names)
}

func TestToolsCommand_InvalidFlags(t *testing.T) {
	_, err := execute(t, "tools", "--turn-detection", "semantic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn_detection")

	_, err = execute(t, "tools", "--timezone", "Mars/Olympus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "time_zone")
}

func TestToolsCommand_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "tools", "--config", t.TempDir()+"/missing.yaml")
	assert.Error(t, err)
}

type fakeAgent struct {
	calls []string
	items []conversation.Item
	mem   *memory.Store
	err   error
}

func (a *fakeAgent) call(name string) error {
	a.calls = append(a.calls, name)
	return a.err
}

func (a *fakeAgent) Connect(context.Context) error { return a.call("connect") }
func (a *fakeAgent) Reset(context.Context) error   { return a.call("reset") }
func (a *fakeAgent) StartTurn() error              { return a.call("start") }
func (a *fakeAgent) EndTurn() error                { return a.call("end") }
func (a *fakeAgent) SendUserMessage(text string) error {
	return a.call("send:" + text)
}
func (a *fakeAgent) SetTurnDetection(_ context.Context, mode voiceagent.TurnDetection) error {
	return a.call("mode:" + string(mode))
}
func (a *fakeAgent) Items() []conversation.Item { return a.items }
func (a *fakeAgent) DeleteItem(id string) bool {
	_ = a.call("delete:" + id)
	return id == "it_1"
}
func (a *fakeAgent) Memory() *memory.Store { return a.mem }

func TestConsole_Commands(t *testing.T) {
	a := &fakeAgent{mem: memory.New()}
	a.mem.Set("name", "Ada")
	a.mem.Set("company", "Acme")
	a.items = []conversation.Item{{
		ID: "it_1", Role: conversation.RoleAssistant, Type: conversation.TypeMessage,
		Status: conversation.StatusCompleted, Formatted: conversation.Formatted{Transcript: "Hi!"},
	}}

	var out bytes.Buffer
	c := newConsole(a, &out)
	input := strings.Join([]string{
		"hello there",
		"",
		"/talk",
		"/send",
		"/manual",
		"/vad",
		"/items",
		"/delete it_1",
		"/delete nope",
		"/memory",
		"/reset",
		"/bogus",
		"/quit",
		"never sent",
	}, "\n")
	require.NoError(t, c.run(context.Background(), strings.NewReader(input)))

	assert.Equal(t, []string{
		"send:hello there",
		"start",
		"end",
		"mode:none",
		"mode:server_vad",
		"delete:it_1",
		"delete:nope",
		"reset",
		"connect",
	}, a.calls)

	text := out.String()
	assert.Contains(t, text, `it_1 assistant message completed "Hi!"`)
	assert.Contains(t, text, `error: no item "nope"`)
	assert.Contains(t, text, "company = Acme\nname = Ada\n")
	assert.Contains(t, text, "error: unknown command /bogus")
}

func TestConsole_ReportsErrors(t *testing.T) {
	a := &fakeAgent{mem: memory.New(), err: errors.New("not connected")}
	var out bytes.Buffer
	c := newConsole(a, &out)

	assert.False(t, c.exec(context.Background(), "/reset"))
	assert.Equal(t, []string{"reset"}, a.calls, "no reconnect after a failed reset")
	assert.Contains(t, out.String(), "error: not connected")
}

func TestConsole_StopsOnContext(t *testing.T) {
	c := newConsole(&fakeAgent{mem: memory.New()}, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()
	assert.NoError(t, c.run(ctx, r))
}

func TestConsole_Transcript(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&fakeAgent{}, &out)

	c.onEvent(voiceagent.Event{
		Kind: voiceagent.EventItemUpdated,
		Item: conversation.Item{Role: conversation.RoleUser},
		Delta: &conversation.Delta{Transcript: "book a demo"},
	})
	c.onEvent(voiceagent.Event{
		Kind: voiceagent.EventItemCompleted,
		Item: conversation.Item{
			Role: conversation.RoleAssistant, Type: conversation.TypeMessage,
			Formatted: conversation.Formatted{Transcript: "Sure, when?"},
		},
	})
	c.onEvent(voiceagent.Event{
		Kind: voiceagent.EventItemCompleted,
		Item: conversation.Item{Role: conversation.RoleAssistant, Type: conversation.TypeFunctionCall},
	})
	c.onEvent(voiceagent.Event{Kind: voiceagent.EventDisconnected})

	assert.Equal(t, "you> book a demo\nagent> Sure, when?\ndisconnected\n", out.String())
}
