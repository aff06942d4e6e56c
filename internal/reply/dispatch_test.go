package reply

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/permission"
	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/plugin"
)

func commandEnvelope(verb, args string) envelope.MessageEnvelope {
	data, _ := json.Marshal(envelope.CommandData{Verb: verb, Args: args})
	return envelope.MessageEnvelope{
		Direction: envelope.Incoming,
		Platform:  "discord",
		MessageInfo: envelope.MessageInfo{
			User:        envelope.Identity{ID: "u1"},
			MessageType: envelope.KindPrivate,
		},
		MessageSegment: envelope.Segment{Type: envelope.SegCommand, Data: data},
	}
}

func TestHandleRepliesWhenDirectlyAddressed(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	repo := newFakePermissionRepo()
	mgr := permission.New(testLogger(t), repo, nil)
	llmEngine := &fakeLLM{response: "hello back"}
	sender := &fakeSender{}

	gen := testGenerator(t, host, mgr, llmEngine, sender, Config{ChatModel: "test-model"})
	err := gen.Handle(context.Background(), textEnvelope(true, "hi there"))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	text, err := sender.sent[0].MessageSegment.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello back", text.Text)
}

func TestHandleSkipsReplyWhenNotAddressedAndUninteresting(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	repo := newFakePermissionRepo()
	mgr := permission.New(testLogger(t), repo, nil)
	llmEngine := &fakeLLM{response: "should not be sent"}
	sender := &fakeSender{}

	gen := testGenerator(t, host, mgr, llmEngine, sender, Config{})
	err := gen.Handle(context.Background(), textEnvelope(false, "ambient chatter"))
	require.NoError(t, err)

	assert.Empty(t, sender.sent)
}

func TestHandleRepliesWhenInterestCalculatorScoresAboveThreshold(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	require.NoError(t, host.Registry().Register("affinity", plugin.KindInterestCalculator, "affinity", &fakeInterestCalculator{score: 0.9}))
	repo := newFakePermissionRepo()
	mgr := permission.New(testLogger(t), repo, nil)
	llmEngine := &fakeLLM{response: "worth replying"}
	sender := &fakeSender{}

	gen := testGenerator(t, host, mgr, llmEngine, sender, Config{ReplyThreshold: 0.6})
	err := gen.Handle(context.Background(), textEnvelope(false, "something interesting"))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
}

func TestHandleReplyBoostsStreamEnergy(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	repo := newFakePermissionRepo()
	mgr := permission.New(testLogger(t), repo, nil)
	llmEngine := &fakeLLM{response: "ok"}
	sender := &fakeSender{}

	streams := envelope.NewStreamRegistry()
	gen := New(testLogger(t), streams, host, mgr, nil, llmEngine, nil, sender, nil, nil, Config{EnergyBoostOnReply: 0.3})

	e := textEnvelope(true, "hi")
	require.NoError(t, gen.Handle(context.Background(), e))

	stream, ok := streams.Get(e.StreamID())
	require.True(t, ok)
	assert.InDelta(t, 0.3, stream.Energy, 0.001)
}

func TestDispatchCommandInvokesRegisteredHandler(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	cmd := &fakeCommand{verb: "ping", out: "pong"}
	require.NoError(t, host.Registry().Register("core", plugin.KindCommand, "ping", cmd))
	repo := newFakePermissionRepo()
	mgr := permission.New(testLogger(t), repo, nil)
	sender := &fakeSender{}

	gen := testGenerator(t, host, mgr, &fakeLLM{}, sender, Config{})
	err := gen.Handle(context.Background(), commandEnvelope("ping", `one "two three"`))
	require.NoError(t, err)

	assert.True(t, cmd.executed)
	assert.Equal(t, []string{"one", "two three"}, cmd.gotArgs)
	require.Len(t, sender.sent, 1)
	text, err := sender.sent[0].MessageSegment.Text()
	require.NoError(t, err)
	assert.Equal(t, "pong", text.Text)
}

func TestDispatchCommandDeniedWithoutPermission(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	cmd := &fakeCommand{verb: "reload", node: "admin.reload", out: "reloaded"}
	require.NoError(t, host.Registry().Register("core", plugin.KindCommand, "reload", cmd))
	repo := newFakePermissionRepo()
	repo.nodes["admin.reload"] = &model.PermissionNode{NodeName: "admin.reload", DefaultGrant: false}
	mgr := permission.New(testLogger(t), repo, nil)
	sender := &fakeSender{}

	gen := testGenerator(t, host, mgr, &fakeLLM{}, sender, Config{})
	err := gen.Handle(context.Background(), commandEnvelope("reload", ""))
	require.NoError(t, err)

	assert.False(t, cmd.executed)
	require.Len(t, sender.sent, 1)
	text, err := sender.sent[0].MessageSegment.Text()
	require.NoError(t, err)
	assert.Contains(t, text.Text, "admin.reload")
}

func TestDispatchCommandUnknownVerbIsSilentlyIgnored(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	repo := newFakePermissionRepo()
	mgr := permission.New(testLogger(t), repo, nil)
	sender := &fakeSender{}

	gen := testGenerator(t, host, mgr, &fakeLLM{}, sender, Config{})
	err := gen.Handle(context.Background(), commandEnvelope("nosuchverb", ""))
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestTokenizeArgsSplitsOnWhitespaceAndRespectsQuotes(t *testing.T) {
	assert.Equal(t, []string{"a", "b c", "d"}, tokenizeArgs(`a "b c" d`))
	assert.Empty(t, tokenizeArgs("   "))
	assert.Equal(t, []string{"single"}, tokenizeArgs("single"))
}

func TestRunActionsRespectsPermissionGate(t *testing.T) {
	host := plugin.NewHost(testLogger(t), nil)
	allowed := &fakeAction{node: ""}
	denied := &fakeAction{node: "admin.act"}
	require.NoError(t, host.Registry().Register("core", plugin.KindAction, "allowed", allowed))
	require.NoError(t, host.Registry().Register("core", plugin.KindAction, "denied", denied))
	repo := newFakePermissionRepo()
	repo.nodes["admin.act"] = &model.PermissionNode{NodeName: "admin.act", DefaultGrant: false}
	mgr := permission.New(testLogger(t), repo, nil)

	gen := testGenerator(t, host, mgr, &fakeLLM{}, &fakeSender{}, Config{})
	user := permission.User{Platform: "discord", UserID: "u1"}
	gen.runActions(context.Background(), textEnvelope(true, "hi"), user)

	assert.True(t, allowed.executed)
	assert.False(t, denied.executed)
}
