package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const denyAllPolicy = `package governance

admission := {"allow": false, "reason": "governance frozen"}
`

func writePolicy(t *testing.T, path, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
}

func TestGuardReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "admission.rego")
	writePolicy(t, path, payoutCapPolicy)

	guard, err := NewGuard(ctx, path, "", nil)
	require.NoError(t, err)

	decision, err := guard.Evaluate(ctx, Input{Kind: "payout", Amount: uint64Ptr(1), IsMember: true})
	require.NoError(t, err)
	assert.True(t, decision.Allowed())

	writePolicy(t, path, denyAllPolicy)
	require.NoError(t, guard.Reload(ctx))

	decision, err = guard.Evaluate(ctx, Input{Kind: "payout", Amount: uint64Ptr(1), IsMember: true})
	require.NoError(t, err)
	assert.False(t, decision.Allowed())

	// a broken file keeps the last good policy
	writePolicy(t, path, "package governance\nadmission := {")
	require.Error(t, guard.Reload(ctx))

	decision, err = guard.Evaluate(ctx, Input{Kind: "payout"})
	require.NoError(t, err)
	assert.Equal(t, "governance frozen", decision.Reason)
}

func TestNewGuardMissingFile(t *testing.T) {
	_, err := NewGuard(context.Background(), filepath.Join(t.TempDir(), "missing.rego"), "", nil)
	assert.Error(t, err)
}

func TestGuardWatchReloadsOnWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "admission.rego")
	writePolicy(t, path, payoutCapPolicy)

	guard, err := NewGuard(ctx, path, "governance/admission", nil)
	require.NoError(t, err)
	require.NoError(t, guard.Watch())
	t.Cleanup(func() { _ = guard.Close() })

	writePolicy(t, path, denyAllPolicy)

	assert.Eventually(t, func() bool {
		decision, err := guard.Evaluate(ctx, Input{Kind: "payout", Amount: uint64Ptr(1), IsMember: true})
		return err == nil && !decision.Allowed()
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, guard.Close())
	require.NoError(t, guard.Close())
}
