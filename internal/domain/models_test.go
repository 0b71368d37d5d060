package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus_LegacySynonymsNormalizeToPending(t *testing.T) {
	for _, raw := range []string{"pending", "pending_review", "initiated", "awaiting_payment_proof", "PENDING", "Initiated"} {
		assert.Equal(t, StatusPendingReview, ParseStatus(raw), "raw %q", raw)
	}
}

func TestParseStatus_CanonicalPassThrough(t *testing.T) {
	for _, s := range []Status{StatusPendingReview, StatusApprovedExecuted, StatusApprovedFailed, StatusRejected} {
		assert.Equal(t, s, ParseStatus(string(s)))
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPendingReview.Terminal())
	assert.True(t, StatusApprovedExecuted.Terminal())
	assert.True(t, StatusApprovedFailed.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestPendingSynonyms_CoversLegacySpellings(t *testing.T) {
	syn := PendingSynonyms()
	require.Contains(t, syn, "PENDING_REVIEW")
	require.Contains(t, syn, "pending")
	require.Contains(t, syn, "initiated")
	require.Contains(t, syn, "awaiting_payment_proof")
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindWalletTopup, ParseKind("deposit"))
	assert.Equal(t, KindWalletTopup, ParseKind("DEPOSIT"))
	assert.Equal(t, KindWalletTopup, ParseKind(""))
	assert.Equal(t, KindGameLoad, ParseKind("game_load"))
	assert.Equal(t, KindWithdrawal, ParseKind("withdrawal"))
	assert.Equal(t, KindWalletLoad, ParseKind("wallet_load"))
}
