package integrity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lprior-repo/zjj/internal/integrity"
)

func TestRecommendedStrategyCoversEveryCorruptionKind(t *testing.T) {
	cases := map[integrity.CorruptionKind]integrity.RepairStrategy{
		integrity.StaleWorkingCopy:  integrity.UpdateWorkingCopy,
		integrity.StaleLock:         integrity.ClearStaleLock,
		integrity.DatabaseMismatch:  integrity.SyncDatabase,
		integrity.OrphanedWorkspace: integrity.ForgetAndRecreate,
		integrity.MissingJjDir:      integrity.ForgetAndRecreate,
		integrity.InvalidJjState:    integrity.ForgetAndRecreate,
		integrity.MissingDirectory:  integrity.RecreateWorkspace,
		integrity.PermissionDenied:  integrity.NoRepairPossible,
		integrity.Unknown:           integrity.NoRepairPossible,
	}
	for kind, want := range cases {
		assert.Equal(t, want, integrity.RecommendedStrategy(kind), "kind=%s", kind)
	}
}

func TestMayLoseDataOnlyForDestructiveStrategies(t *testing.T) {
	lossy := map[integrity.RepairStrategy]bool{
		integrity.ClearStaleLock:    false,
		integrity.SyncDatabase:      false,
		integrity.UpdateWorkingCopy: false,
		integrity.ForgetAndRecreate: true,
		integrity.RecreateWorkspace: true,
		integrity.NoRepairPossible:  false,
	}
	for strategy, want := range lossy {
		assert.Equal(t, want, strategy.MayLoseData(), "strategy=%s", strategy)
	}
}

func TestValidationResultIsValid(t *testing.T) {
	assert.True(t, integrity.ValidationResult{}.IsValid())
	assert.False(t, integrity.ValidationResult{Issues: []integrity.Issue{{Kind: integrity.StaleLock}}}.IsValid())
}

func TestMostSevereIssuePicksHighestSeverity(t *testing.T) {
	result := integrity.ValidationResult{Issues: []integrity.Issue{
		{Kind: integrity.StaleWorkingCopy}, // severity 1
		{Kind: integrity.MissingDirectory}, // severity 5
		{Kind: integrity.StaleLock},        // severity 2
	}}
	most := result.MostSevereIssue()
	if assert.NotNil(t, most) {
		assert.Equal(t, integrity.MissingDirectory, most.Kind)
	}
}

func TestMostSevereIssueNilWhenNoIssues(t *testing.T) {
	assert.Nil(t, integrity.ValidationResult{}.MostSevereIssue())
}

func TestAutoRepairableIssuesExcludesNoRepairPossible(t *testing.T) {
	result := integrity.ValidationResult{Issues: []integrity.Issue{
		{Kind: integrity.StaleLock, Strategy: integrity.ClearStaleLock},
		{Kind: integrity.PermissionDenied, Strategy: integrity.NoRepairPossible},
	}}
	repairable := result.AutoRepairableIssues()
	assert.Len(t, repairable, 1)
	assert.Equal(t, integrity.StaleLock, repairable[0].Kind)
	assert.True(t, result.HasAutoRepairableIssues())
}

func TestHasAutoRepairableIssuesFalseWhenNoneRepairable(t *testing.T) {
	result := integrity.ValidationResult{Issues: []integrity.Issue{
		{Kind: integrity.PermissionDenied, Strategy: integrity.NoRepairPossible},
	}}
	assert.False(t, result.HasAutoRepairableIssues())
}

func TestCorruptionKindStringRoundTrips(t *testing.T) {
	assert.Equal(t, "stale_lock", integrity.StaleLock.String())
	assert.Equal(t, "unknown", integrity.CorruptionKind(99).String())
}

func TestRepairStrategyRiskBounds(t *testing.T) {
	assert.Equal(t, 0, integrity.NoRepairPossible.Risk())
	assert.Equal(t, 5, integrity.RecreateWorkspace.Risk())
	assert.Equal(t, 5, integrity.RepairStrategy(99).Risk())
}
