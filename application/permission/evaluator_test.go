package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	wasmcmderrors "github.com/wasmcmd-dev/wasmcmd/domain/errors"
	"github.com/wasmcmd-dev/wasmcmd/domain/policy"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
	"github.com/wasmcmd-dev/wasmcmd/infrastructure/audit"
	"github.com/wasmcmd-dev/wasmcmd/infrastructure/grantstore"
	"github.com/wasmcmd-dev/wasmcmd/infrastructure/prompter"
)

func readCaps(patterns ...string) entities.Capabilities {
	var caps entities.Capabilities
	for _, p := range patterns {
		caps.FSRead = append(caps.FSRead, entities.PathPattern{Pattern: p})
	}
	return caps
}

func TestEvaluateEmptyCapabilitiesAlwaysPasses(t *testing.T) {
	e := NewEvaluator(policy.NewStrict(), grantstore.NewMemoryStore())
	assert.NoError(t, e.Evaluate(context.Background(), "echo", "echo", entities.Capabilities{}))
}

func TestStrictDeniesWithoutStoredGrant(t *testing.T) {
	e := NewEvaluator(policy.NewStrict(), grantstore.NewMemoryStore())
	err := e.Evaluate(context.Background(), "echo", "echo", readCaps("./data"))
	require.Error(t, err)
	var denied *wasmcmderrors.CapabilityDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "echo", denied.Subject)
	assert.Equal(t, "fs_read", denied.Kind)
}

func TestStoredGrantWinsOverStrategy(t *testing.T) {
	ctx := context.Background()
	store := grantstore.NewMemoryStore()
	caps := readCaps("./data")

	// Seed the hash so the stored grant is not revoked as an
	// escalation, then store an allow.
	require.NoError(t, store.SetSubjectHash(ctx, "echo", caps.Hash()))
	require.NoError(t, store.Put(ctx, entities.Decision{
		Subject: "echo",
		Kind:    entities.KindFSRead,
		Pattern: "./data",
		Verdict: entities.VerdictAllow,
		Scope:   entities.ScopePersistent,
	}))

	e := NewEvaluator(policy.NewStrict(), store)
	assert.NoError(t, e.Evaluate(ctx, "echo", "echo", caps))
}

func TestCoveringGrantSubsumesNarrowerRequest(t *testing.T) {
	ctx := context.Background()
	store := grantstore.NewMemoryStore()
	caps := readCaps("./data/config.json")

	require.NoError(t, store.SetSubjectHash(ctx, "echo", caps.Hash()))
	require.NoError(t, store.Put(ctx, entities.Decision{
		Subject: "echo",
		Kind:    entities.KindFSRead,
		Pattern: "./data/**",
		Verdict: entities.VerdictAllow,
		Scope:   entities.ScopePersistent,
	}))

	e := NewEvaluator(policy.NewStrict(), store)
	assert.NoError(t, e.Evaluate(ctx, "echo", "echo", caps))

	// The grant does not stretch to siblings of its subtree.
	other := readCaps("./secrets/key")
	require.NoError(t, store.DropSubject(ctx, "echo"))
	require.NoError(t, store.SetSubjectHash(ctx, "echo", other.Hash()))
	require.NoError(t, store.Put(ctx, entities.Decision{
		Subject: "echo",
		Kind:    entities.KindFSRead,
		Pattern: "./data/**",
		Verdict: entities.VerdictAllow,
		Scope:   entities.ScopePersistent,
	}))
	assert.Error(t, NewEvaluator(policy.NewStrict(), store).Evaluate(ctx, "echo", "echo", other))
}

func TestCoveringDenyBeatsCoveringAllow(t *testing.T) {
	ctx := context.Background()
	store := grantstore.NewMemoryStore()
	caps := readCaps("./data/sub/file")

	require.NoError(t, store.SetSubjectHash(ctx, "echo", caps.Hash()))
	require.NoError(t, store.Put(ctx, entities.Decision{
		Subject: "echo", Kind: entities.KindFSRead, Pattern: "./**",
		Verdict: entities.VerdictAllow, Scope: entities.ScopePersistent,
	}))
	require.NoError(t, store.Put(ctx, entities.Decision{
		Subject: "echo", Kind: entities.KindFSRead, Pattern: "./data/**",
		Verdict: entities.VerdictDeny, Scope: entities.ScopePersistent,
	}))

	err := NewEvaluator(policy.NewStrict(), store).Evaluate(ctx, "echo", "echo", caps)
	assert.True(t, wasmcmderrors.IsCapabilityDenied(err))
}

func TestPermissiveAllowsFSButDeniesNet(t *testing.T) {
	e := NewEvaluator(policy.NewPermissive(), grantstore.NewMemoryStore())
	assert.NoError(t, e.Evaluate(context.Background(), "echo", "echo", readCaps("./data")))
}

func TestPromptAllowOnceIsSessionScoped(t *testing.T) {
	ctx := context.Background()
	store := grantstore.NewMemoryStore()
	e := NewEvaluator(policy.NewDefault(), store,
		WithPrompter(prompter.NewAuto(ports.AnswerAllowOnce)))

	caps := readCaps("./data")
	require.NoError(t, e.Evaluate(ctx, "echo", "echo", caps))

	// Nothing persisted.
	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Second evaluation hits the session grant, not the prompter.
	e2 := NewEvaluator(policy.NewDefault(), store,
		WithPrompter(prompter.NewAuto(ports.AnswerDeny)))
	assert.Error(t, e2.Evaluate(ctx, "echo", "echo", caps))
	assert.NoError(t, e.Evaluate(ctx, "echo", "echo", caps))
}

func TestPromptAlwaysPersists(t *testing.T) {
	ctx := context.Background()
	store := grantstore.NewMemoryStore()
	e := NewEvaluator(policy.NewDefault(), store,
		WithPrompter(prompter.NewAuto(ports.AnswerAllowAlways)))

	caps := readCaps("./data")
	require.NoError(t, e.Evaluate(ctx, "echo", "echo", caps))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entities.ScopePersistent, list[0].Scope)

	// A fresh evaluator with a deny-everything strategy still allows
	// via the stored grant.
	e2 := NewEvaluator(policy.NewStrict(), store)
	assert.NoError(t, e2.Evaluate(ctx, "echo", "echo", caps))
}

func TestPromptDenyIsRememberedForSession(t *testing.T) {
	ctx := context.Background()
	e := NewEvaluator(policy.NewDefault(), grantstore.NewMemoryStore(),
		WithPrompter(prompter.NewAuto(ports.AnswerDeny)))

	caps := readCaps("./data")
	assert.Error(t, e.Evaluate(ctx, "echo", "echo", caps))
	assert.Error(t, e.Evaluate(ctx, "echo", "echo", caps))
}

func TestNonInteractivePromptDenies(t *testing.T) {
	e := NewEvaluator(policy.NewDefault(), grantstore.NewMemoryStore(),
		WithPrompter(prompter.NewDenyAll()))
	err := e.Evaluate(context.Background(), "echo", "echo", readCaps("./data"))
	assert.True(t, wasmcmderrors.IsCapabilityDenied(err))
}

func TestTrustDirectivesBypassPrompting(t *testing.T) {
	ctx := context.Background()
	caps := readCaps("./data")

	byPlugin := NewEvaluator(policy.NewStrict(), grantstore.NewMemoryStore(),
		WithTrustDirectives(TrustDirectives{Plugins: []string{"echo"}}))
	assert.NoError(t, byPlugin.Evaluate(ctx, "echo", "echo", caps))
	assert.Error(t, byPlugin.Evaluate(ctx, "other", "other", caps))

	byCommand := NewEvaluator(policy.NewStrict(), grantstore.NewMemoryStore(),
		WithTrustDirectives(TrustDirectives{Commands: []string{"deploy"}}))
	assert.NoError(t, byCommand.Evaluate(ctx, "tool", "deploy", caps))
	assert.Error(t, byCommand.Evaluate(ctx, "tool", "status", caps))

	all := NewEvaluator(policy.NewStrict(), grantstore.NewMemoryStore(),
		WithTrustDirectives(TrustDirectives{All: true}))
	assert.NoError(t, all.Evaluate(ctx, "anything", "x", caps))
}

func TestEscalationRevokesStoredGrants(t *testing.T) {
	ctx := context.Background()
	store := grantstore.NewMemoryStore()

	original := readCaps("./data")
	require.NoError(t, store.SetSubjectHash(ctx, "echo", original.Hash()))
	require.NoError(t, store.Put(ctx, entities.Decision{
		Subject: "echo",
		Kind:    entities.KindFSRead,
		Pattern: "./data",
		Verdict: entities.VerdictAllow,
		Scope:   entities.ScopePersistent,
	}))

	var escalated []string
	e := NewEvaluator(policy.NewStrict(), store,
		WithEscalationHook(func(subject string) { escalated = append(escalated, subject) }))

	// Same capability set: grant still honored.
	require.NoError(t, e.Evaluate(ctx, "echo", "echo", original))
	assert.Empty(t, escalated)

	// Widened capability set: grants revoked, strict denies.
	widened := readCaps("./data", "/etc/**")
	err := e.Evaluate(ctx, "echo", "echo", widened)
	assert.True(t, wasmcmderrors.IsCapabilityDenied(err))
	assert.Equal(t, []string{"echo"}, escalated)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The new hash is recorded so the next run is not another
	// escalation.
	hash, ok, err := store.SubjectHash(ctx, "echo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, widened.Hash(), hash)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemorySink()
	e := NewEvaluator(policy.NewPermissive(), grantstore.NewMemoryStore(),
		WithAuditSink(sink))

	require.NoError(t, e.Evaluate(ctx, "echo", "echo", readCaps("./data")))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "echo", events[0].Subject)
	assert.Equal(t, "fs_read", events[0].Kind)
	assert.Equal(t, "allow", events[0].Verdict)
	assert.Equal(t, ports.SourceStrategy, events[0].Source)
	assert.Equal(t, policy.NamePermissive, events[0].Strategy)
}
