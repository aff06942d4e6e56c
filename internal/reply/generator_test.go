package reply

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/llm"
	"github.com/coreagent/platform/internal/permission"
	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/platform/logger"
	"github.com/coreagent/platform/internal/plugin"
)

// fakePermissionRepo is a minimal in-memory repo.PermissionRepo,
// grounded on the same fake style as internal/permission's own tests.
type fakePermissionRepo struct {
	nodes map[string]*model.PermissionNode
	users map[[3]string]*model.UserPermission
}

func newFakePermissionRepo() *fakePermissionRepo {
	return &fakePermissionRepo{
		nodes: make(map[string]*model.PermissionNode),
		users: make(map[[3]string]*model.UserPermission),
	}
}

func (f *fakePermissionRepo) RegisterNode(_ context.Context, _ *gorm.DB, node *model.PermissionNode) error {
	cp := *node
	f.nodes[node.NodeName] = &cp
	return nil
}
func (f *fakePermissionRepo) GetNode(_ context.Context, _ *gorm.DB, nodeName string) (*model.PermissionNode, error) {
	return f.nodes[nodeName], nil
}
func (f *fakePermissionRepo) ListNodes(_ context.Context, _ *gorm.DB) ([]*model.PermissionNode, error) {
	var out []*model.PermissionNode
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}
func (f *fakePermissionRepo) ListNodesByPlugin(_ context.Context, _ *gorm.DB, plugin string) ([]*model.PermissionNode, error) {
	return nil, nil
}
func (f *fakePermissionRepo) DeletePluginNodes(_ context.Context, _ *gorm.DB, plugin string) error { return nil }
func (f *fakePermissionRepo) Grant(_ context.Context, _ *gorm.DB, platform, userID, nodeName string) error {
	f.users[[3]string{platform, userID, nodeName}] = &model.UserPermission{Platform: platform, UserID: userID, NodeName: nodeName, Granted: true}
	return nil
}
func (f *fakePermissionRepo) Revoke(_ context.Context, _ *gorm.DB, platform, userID, nodeName string) error {
	f.users[[3]string{platform, userID, nodeName}] = &model.UserPermission{Platform: platform, UserID: userID, NodeName: nodeName, Granted: false}
	return nil
}
func (f *fakePermissionRepo) EffectiveGrant(_ context.Context, _ *gorm.DB, platform, userID, nodeName string) (bool, error) {
	if u, ok := f.users[[3]string{platform, userID, nodeName}]; ok {
		return u.Granted, nil
	}
	n, ok := f.nodes[nodeName]
	if !ok {
		return false, nil
	}
	return n.DefaultGrant, nil
}
func (f *fakePermissionRepo) ListGrants(_ context.Context, _ *gorm.DB, platform, userID string) ([]*model.UserPermission, error) {
	return nil, nil
}
func (f *fakePermissionRepo) ListGrantedUsers(_ context.Context, _ *gorm.DB, nodeName string) ([]*model.UserPermission, error) {
	return nil, nil
}

// fakeLLM is a minimal llm.Engine that returns a canned reply and
// records the messages it was asked to generate from.
type fakeLLM struct {
	response    string
	err         error
	lastMessages []llm.Message
}

func (f *fakeLLM) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeLLM) GenerateText(ctx context.Context, model string, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	f.lastMessages = messages
	return f.response, f.err
}
func (f *fakeLLM) StreamText(ctx context.Context, model string, messages []llm.Message, opts llm.GenerateOptions, onDelta func(string)) (string, error) {
	return f.response, f.err
}

type fakeSender struct {
	sent []envelope.MessageEnvelope
}

func (f *fakeSender) SendOutgoing(ctx context.Context, e envelope.MessageEnvelope) error {
	f.sent = append(f.sent, e)
	return nil
}

type fakeCommand struct {
	verb     string
	node     string
	out      string
	err      error
	executed bool
	gotArgs  []string
}

func (f *fakeCommand) Verb() string           { return f.verb }
func (f *fakeCommand) PermissionNode() string { return f.node }
func (f *fakeCommand) Flags() *pflag.FlagSet  { return pflag.NewFlagSet(f.verb, pflag.ContinueOnError) }
func (f *fakeCommand) Execute(ctx context.Context, env envelope.MessageEnvelope, args []string) (string, error) {
	f.executed = true
	f.gotArgs = args
	return f.out, f.err
}

type fakeInterestCalculator struct{ score float64 }

func (f *fakeInterestCalculator) Calculate(ctx context.Context, e envelope.MessageEnvelope, stream *envelope.ChatStream) float64 {
	return f.score
}

type fakeAction struct {
	node     string
	out      string
	executed bool
}

func (f *fakeAction) PermissionNode() string { return f.node }
func (f *fakeAction) Execute(ctx context.Context, e envelope.MessageEnvelope) (string, error) {
	f.executed = true
	return f.out, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func testGenerator(t *testing.T, host *plugin.Host, mgr *permission.Manager, llmEngine llm.Engine, sender OutgoingSender, cfg Config) *Generator {
	t.Helper()
	return New(testLogger(t), envelope.NewStreamRegistry(), host, mgr, nil, llmEngine, nil, sender, nil, nil, cfg)
}

func textEnvelope(toMe bool, text string) envelope.MessageEnvelope {
	data, _ := json.Marshal(envelope.TextData{Text: text})
	return envelope.MessageEnvelope{
		Direction: envelope.Incoming,
		Platform:  "discord",
		MessageInfo: envelope.MessageInfo{
			User:        envelope.Identity{ID: "u1"},
			ToMe:        toMe,
			MessageType: envelope.KindPrivate,
		},
		MessageSegment: envelope.Segment{Type: envelope.SegText, Data: data},
	}
}
