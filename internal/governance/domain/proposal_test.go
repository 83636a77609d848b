package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func feeChange() ParameterChange {
	return ParameterChange{Kind: ParamPoolFeeRate, TargetID: "POOL-1", Value: d("0.005")}
}

func votingProposal(t *testing.T) *GovernanceProposal {
	t.Helper()
	p, err := NewProposal("PROP-1", "ops", "raise pool fee", feeChange(), d("100"), d("0.5"))
	require.NoError(t, err)
	require.NoError(t, p.OpenVoting())
	return p
}

func TestNewProposalValidation(t *testing.T) {
	_, err := NewProposal("PROP-1", "", "t", feeChange(), d("100"), d("0.5"))
	require.Error(t, err)
	_, err = NewProposal("PROP-1", "ops", "t", ParameterChange{}, d("100"), d("0.5"))
	require.Error(t, err)
	_, err = NewProposal("PROP-1", "ops", "t", feeChange(), decimal.Zero, d("0.5"))
	require.Error(t, err)
	_, err = NewProposal("PROP-1", "ops", "t", feeChange(), d("100"), d("1"))
	require.Error(t, err)
}

func TestVotingLifecyclePasses(t *testing.T) {
	p := votingProposal(t)

	require.NoError(t, p.CastVote("alice", true, d("80")))
	require.NoError(t, p.CastVote("bob", false, d("30")))
	require.NoError(t, p.CloseVoting())

	// 110 ≥ 100 且 80/110 > 0.5。
	require.Equal(t, StatusPassed, p.Status)
	require.NoError(t, p.MarkExecuted())
	require.Equal(t, StatusExecuted, p.Status)
}

func TestQuorumNotMetRejects(t *testing.T) {
	p := votingProposal(t)
	require.NoError(t, p.CastVote("alice", true, d("99")))
	require.NoError(t, p.CloseVoting())
	require.Equal(t, StatusRejected, p.Status)
	require.Error(t, p.MarkExecuted())
}

func TestMajorityBoundaryIsStrict(t *testing.T) {
	p := votingProposal(t)
	// 平票不过线：赞成占比必须严格大于 0.5。
	require.NoError(t, p.CastVote("alice", true, d("60")))
	require.NoError(t, p.CastVote("bob", false, d("60")))
	require.NoError(t, p.CloseVoting())
	require.Equal(t, StatusRejected, p.Status)
}

func TestOneVotePerVoter(t *testing.T) {
	p := votingProposal(t)
	require.NoError(t, p.CastVote("alice", true, d("80")))

	// 重复投相同票为幂等空操作。
	before := len(p.Uncommitted())
	require.NoError(t, p.CastVote("alice", true, d("80")))
	require.Len(t, p.Uncommitted(), before)
	require.True(t, p.TotalFor.Equal(d("80")))

	// 改票被拒绝。
	require.ErrorIs(t, p.CastVote("alice", false, d("80")), ErrVoteChanged)
	require.ErrorIs(t, p.CastVote("alice", true, d("50")), ErrVoteChanged)
}

func TestStateGuards(t *testing.T) {
	p, err := NewProposal("PROP-1", "ops", "t", feeChange(), d("100"), d("0.5"))
	require.NoError(t, err)

	// 草案阶段不能投票或计票。
	require.ErrorIs(t, p.CastVote("alice", true, d("1")), ErrInvalidState)
	require.ErrorIs(t, p.CloseVoting(), ErrInvalidState)
	require.ErrorIs(t, p.MarkExecuted(), ErrInvalidState)

	require.NoError(t, p.OpenVoting())
	require.ErrorIs(t, p.OpenVoting(), ErrInvalidState)

	// 投票期可撤回，终态不可。
	require.NoError(t, p.Withdraw("superseded"))
	require.Equal(t, StatusRejected, p.Status)
	require.ErrorIs(t, p.Withdraw("again"), ErrInvalidState)
}

func TestProposalReplayDeterminism(t *testing.T) {
	p := votingProposal(t)
	require.NoError(t, p.CastVote("alice", true, d("80")))
	require.NoError(t, p.CastVote("bob", true, d("40")))
	require.NoError(t, p.CloseVoting())
	require.NoError(t, p.MarkExecuted())

	replayed := NewGovernanceProposal("PROP-1")
	require.NoError(t, replayed.Replay(replayed, p.Uncommitted()))
	require.Equal(t, StatusExecuted, replayed.Status)
	require.True(t, replayed.TotalFor.Equal(d("120")))
	require.Equal(t, p.CurrentVersion(), replayed.CurrentVersion())
}

func TestProposalSnapshotRoundTrip(t *testing.T) {
	p := votingProposal(t)
	require.NoError(t, p.CastVote("alice", true, d("80")))

	state, err := p.SnapshotState()
	require.NoError(t, err)

	restored := NewGovernanceProposal("PROP-1")
	require.NoError(t, restored.RestoreSnapshot(p.CurrentVersion(), state))
	require.Equal(t, StatusVoting, restored.Status)
	require.Equal(t, ParamPoolFeeRate, restored.Change.Kind)
	require.True(t, restored.Votes["alice"].Weight.Equal(d("80")))
}
