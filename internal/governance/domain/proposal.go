// Package domain 实现治理提案聚合：参数变更经 草案 → 投票 → 通过/否决 → 执行，
// 每个投票人至多计票一次，通过需同时满足法定票数与多数比例。
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

var (
	ErrInvalidState = errors.New("operation not allowed in current proposal status")
	ErrVoteChanged  = errors.New("voter already cast a different vote")
)

// Status 提案状态。
type Status string

const (
	StatusDraft    Status = "draft"
	StatusVoting   Status = "voting"
	StatusPassed   Status = "passed"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
)

// ParameterKind 可治理的参数类别。
type ParameterKind string

const (
	// ParamPoolFeeRate 资金池手续费率，TargetID 为 poolID。
	ParamPoolFeeRate ParameterKind = "pool_fee_rate"
	// ParamReserveTargetRatio 储备金目标覆盖率，TargetID 为 reserveID。
	ParamReserveTargetRatio ParameterKind = "reserve_target_ratio"
)

// ParameterChange 一项具体的参数变更。
type ParameterChange struct {
	Kind     ParameterKind   `json:"kind"`
	TargetID string          `json:"target_id"`
	Value    decimal.Decimal `json:"value"`
}

// Vote 一个投票人的计票记录。
type Vote struct {
	Approve bool            `json:"approve"`
	Weight  decimal.Decimal `json:"weight"`
}

// GovernanceProposal 治理提案聚合根。
type GovernanceProposal struct {
	eventsourcing.AggregateBase

	Proposer string
	Title    string
	Change   ParameterChange
	// Quorum 通过所需的最低总投票权重。
	Quorum decimal.Decimal
	// Majority 通过所需的赞成占比下限，赞成比例必须严格大于该值。
	Majority     decimal.Decimal
	Status       Status
	Votes        map[string]Vote
	TotalFor     decimal.Decimal
	TotalAgainst decimal.Decimal
}

// NewGovernanceProposal 创建零值聚合，供仓储重放历史。
func NewGovernanceProposal(proposalID string) *GovernanceProposal {
	p := &GovernanceProposal{
		Votes:        make(map[string]Vote),
		TotalFor:     decimal.Zero,
		TotalAgainst: decimal.Zero,
	}
	p.ID = proposalID
	return p
}

// NewProposal 创建提案。
func NewProposal(proposalID, proposer, title string, change ParameterChange, quorum, majority decimal.Decimal) (*GovernanceProposal, error) {
	if proposer == "" || title == "" {
		return nil, errs.Validation("proposer and title must not be empty")
	}
	if change.Kind == "" || change.TargetID == "" {
		return nil, errs.Validation("parameter change must name a kind and a target")
	}
	if !quorum.IsPositive() {
		return nil, errs.Validation("quorum must be positive, got %s", quorum)
	}
	if majority.IsNegative() || majority.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errs.Validation("majority must be in [0, 1), got %s", majority)
	}

	p := NewGovernanceProposal(proposalID)
	err := p.Record(p, &ProposalCreated{
		ProposalID: proposalID,
		Proposer:   proposer,
		Title:      title,
		Change:     change,
		Quorum:     quorum,
		Majority:   majority,
		At:         time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OpenVoting 开启投票期。仅草案可开启。
func (p *GovernanceProposal) OpenVoting() error {
	if p.Status != StatusDraft {
		return p.invalidState("open voting")
	}
	return p.Record(p, &VotingOpened{ProposalID: p.ID, At: time.Now()})
}

// CastVote 计一票。同一投票人重复投相同票为幂等空操作，改票被拒绝。
func (p *GovernanceProposal) CastVote(voter string, approve bool, weight decimal.Decimal) error {
	if p.Status != StatusVoting {
		return p.invalidState("cast vote")
	}
	if voter == "" {
		return errs.Validation("voter must not be empty")
	}
	if !weight.IsPositive() {
		return errs.Validation("vote weight must be positive, got %s", weight)
	}
	if prev, ok := p.Votes[voter]; ok {
		if prev.Approve == approve && prev.Weight.Equal(weight) {
			return nil
		}
		return errs.Mark(fmt.Errorf("%w: voter %s", ErrVoteChanged, voter), errs.KindBusiness)
	}
	return p.Record(p, &VoteCast{ProposalID: p.ID, Voter: voter, Approve: approve, Weight: weight, At: time.Now()})
}

// CloseVoting 结束投票期并计票：总权重达到法定票数且赞成占比
// 严格超过多数线则通过，否则否决。
func (p *GovernanceProposal) CloseVoting() error {
	if p.Status != StatusVoting {
		return p.invalidState("close voting")
	}

	total := p.TotalFor.Add(p.TotalAgainst)
	passed := false
	reason := ""
	switch {
	case total.LessThan(p.Quorum):
		reason = fmt.Sprintf("quorum not met: cast %s, required %s", total, p.Quorum)
	case !p.TotalFor.Div(total).GreaterThan(p.Majority):
		reason = fmt.Sprintf("majority not met: for %s of %s", p.TotalFor, total)
	default:
		passed = true
	}

	err := p.Record(p, &VotingClosed{
		ProposalID:   p.ID,
		TotalFor:     p.TotalFor,
		TotalAgainst: p.TotalAgainst,
		Passed:       passed,
		At:           time.Now(),
	})
	if err != nil {
		return err
	}
	if !passed {
		return p.Record(p, &ProposalRejected{ProposalID: p.ID, Reason: reason, At: time.Now()})
	}
	return nil
}

// MarkExecuted 标记参数变更已生效。仅通过的提案可执行。
func (p *GovernanceProposal) MarkExecuted() error {
	if p.Status != StatusPassed {
		return p.invalidState("execute")
	}
	return p.Record(p, &ProposalExecuted{ProposalID: p.ID, At: time.Now()})
}

// Withdraw 撤回提案。进入终态前均可撤回。
func (p *GovernanceProposal) Withdraw(reason string) error {
	if p.Status != StatusDraft && p.Status != StatusVoting {
		return p.invalidState("withdraw")
	}
	return p.Record(p, &ProposalRejected{ProposalID: p.ID, Reason: reason, At: time.Now()})
}

func (p *GovernanceProposal) invalidState(op string) error {
	return errs.Mark(
		fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, p.Status),
		errs.KindBusiness)
}

// Apply 按事件类型查表推进状态。
func (p *GovernanceProposal) Apply(event eventsourcing.DomainEvent) error {
	switch e := event.(type) {
	case *ProposalCreated:
		p.ID = e.ProposalID
		p.Proposer = e.Proposer
		p.Title = e.Title
		p.Change = e.Change
		p.Quorum = e.Quorum
		p.Majority = e.Majority
		p.Status = StatusDraft
	case *VotingOpened:
		p.Status = StatusVoting
	case *VoteCast:
		p.Votes[e.Voter] = Vote{Approve: e.Approve, Weight: e.Weight}
		if e.Approve {
			p.TotalFor = p.TotalFor.Add(e.Weight)
		} else {
			p.TotalAgainst = p.TotalAgainst.Add(e.Weight)
		}
	case *VotingClosed:
		if e.Passed {
			p.Status = StatusPassed
		}
	case *ProposalExecuted:
		p.Status = StatusExecuted
	case *ProposalRejected:
		p.Status = StatusRejected
	default:
		return fmt.Errorf("governance proposal: unexpected event %T", event)
	}
	return nil
}

type proposalSnapshot struct {
	Proposer     string          `json:"proposer"`
	Title        string          `json:"title"`
	Change       ParameterChange `json:"change"`
	Quorum       decimal.Decimal `json:"quorum"`
	Majority     decimal.Decimal `json:"majority"`
	Status       Status          `json:"status"`
	Votes        map[string]Vote `json:"votes"`
	TotalFor     decimal.Decimal `json:"total_for"`
	TotalAgainst decimal.Decimal `json:"total_against"`
}

// SnapshotState 序列化物化状态。
func (p *GovernanceProposal) SnapshotState() ([]byte, error) {
	return json.Marshal(proposalSnapshot{
		Proposer:     p.Proposer,
		Title:        p.Title,
		Change:       p.Change,
		Quorum:       p.Quorum,
		Majority:     p.Majority,
		Status:       p.Status,
		Votes:        p.Votes,
		TotalFor:     p.TotalFor,
		TotalAgainst: p.TotalAgainst,
	})
}

// RestoreSnapshot 从物化状态恢复。
func (p *GovernanceProposal) RestoreSnapshot(version int64, state []byte) error {
	var snap proposalSnapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return err
	}
	p.Proposer = snap.Proposer
	p.Title = snap.Title
	p.Change = snap.Change
	p.Quorum = snap.Quorum
	p.Majority = snap.Majority
	p.Status = snap.Status
	p.Votes = snap.Votes
	if p.Votes == nil {
		p.Votes = make(map[string]Vote)
	}
	p.TotalFor = snap.TotalFor
	p.TotalAgainst = snap.TotalAgainst
	p.Ver = version
	return nil
}

var (
	_ eventsourcing.Aggregate   = (*GovernanceProposal)(nil)
	_ eventsourcing.Snapshotter = (*GovernanceProposal)(nil)
)
