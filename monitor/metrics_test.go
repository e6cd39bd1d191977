package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordOutcomeAndSnapshot(t *testing.T) {
	before := GetStats()

	RequestBegin()
	RecordOutcome("deepseek", "deepseek-chat", 7, true, 1.2)
	RecordOutcome("deepseek", "deepseek-chat", 7, false, 0.4)
	RecordOutcome("kimi", "kimi-k2", 0, true, 2.0)
	RequestEnd()

	after := GetStats()
	require.Equal(t, before.TotalRequests+3, after.TotalRequests)
	require.Equal(t, before.SuccessRequests+2, after.SuccessRequests)
	require.Equal(t, before.FailedRequests+1, after.FailedRequests)
	require.Equal(t, before.ActiveRequests, after.ActiveRequests)

	require.Equal(t, before.ByModel["deepseek-chat"]+2, after.ByModel["deepseek-chat"])
	require.Equal(t, before.ByProvider["kimi"]+1, after.ByProvider["kimi"])
	require.Equal(t, before.ByAccount["7"]+2, after.ByAccount["7"])

	// Account id zero is not tracked per account.
	_, tracked := after.ByAccount["0"]
	require.False(t, tracked)
}

func TestSnapshotIsACopy(t *testing.T) {
	snapshot := GetStats()
	snapshot.ByModel["mutated"] = 99

	fresh := GetStats()
	_, leaked := fresh.ByModel["mutated"]
	require.False(t, leaked)
}
