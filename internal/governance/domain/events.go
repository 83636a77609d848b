package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

const (
	EventProposalCreated  = "proposal.created"
	EventVotingOpened     = "proposal.voting_opened"
	EventVoteCast         = "proposal.vote_cast"
	EventVotingClosed     = "proposal.voting_closed"
	EventProposalExecuted = "proposal.executed"
	EventProposalRejected = "proposal.rejected"
)

// ProposalCreated 提案创建，初始为草案。
type ProposalCreated struct {
	eventsourcing.BaseEvent
	ProposalID string          `json:"proposal_id"`
	Proposer   string          `json:"proposer"`
	Title      string          `json:"title"`
	Change     ParameterChange `json:"change"`
	Quorum     decimal.Decimal `json:"quorum"`
	Majority   decimal.Decimal `json:"majority"`
	At         time.Time       `json:"at"`
}

func (e *ProposalCreated) EventType() string     { return EventProposalCreated }
func (e *ProposalCreated) AggregateID() string   { return e.ProposalID }
func (e *ProposalCreated) OccurredAt() time.Time { return e.At }

// VotingOpened 进入投票期。
type VotingOpened struct {
	eventsourcing.BaseEvent
	ProposalID string    `json:"proposal_id"`
	At         time.Time `json:"at"`
}

func (e *VotingOpened) EventType() string     { return EventVotingOpened }
func (e *VotingOpened) AggregateID() string   { return e.ProposalID }
func (e *VotingOpened) OccurredAt() time.Time { return e.At }

// VoteCast 一票。Weight 为投票权重。
type VoteCast struct {
	eventsourcing.BaseEvent
	ProposalID string          `json:"proposal_id"`
	Voter      string          `json:"voter"`
	Approve    bool            `json:"approve"`
	Weight     decimal.Decimal `json:"weight"`
	At         time.Time       `json:"at"`
}

func (e *VoteCast) EventType() string     { return EventVoteCast }
func (e *VoteCast) AggregateID() string   { return e.ProposalID }
func (e *VoteCast) OccurredAt() time.Time { return e.At }

// VotingClosed 投票期结束，计票结果定格。
type VotingClosed struct {
	eventsourcing.BaseEvent
	ProposalID   string          `json:"proposal_id"`
	TotalFor     decimal.Decimal `json:"total_for"`
	TotalAgainst decimal.Decimal `json:"total_against"`
	Passed       bool            `json:"passed"`
	At           time.Time       `json:"at"`
}

func (e *VotingClosed) EventType() string     { return EventVotingClosed }
func (e *VotingClosed) AggregateID() string   { return e.ProposalID }
func (e *VotingClosed) OccurredAt() time.Time { return e.At }

// ProposalExecuted 参数变更已生效。
type ProposalExecuted struct {
	eventsourcing.BaseEvent
	ProposalID string    `json:"proposal_id"`
	At         time.Time `json:"at"`
}

func (e *ProposalExecuted) EventType() string     { return EventProposalExecuted }
func (e *ProposalExecuted) AggregateID() string   { return e.ProposalID }
func (e *ProposalExecuted) OccurredAt() time.Time { return e.At }

// ProposalRejected 提案被否决或撤回。
type ProposalRejected struct {
	eventsourcing.BaseEvent
	ProposalID string    `json:"proposal_id"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

func (e *ProposalRejected) EventType() string     { return EventProposalRejected }
func (e *ProposalRejected) AggregateID() string   { return e.ProposalID }
func (e *ProposalRejected) OccurredAt() time.Time { return e.At }

// EventRegistry 返回本聚合的事件注册表。
func EventRegistry() *eventsourcing.EventRegistry {
	return eventsourcing.NewEventRegistry().
		Register(EventProposalCreated, func() eventsourcing.DomainEvent { return &ProposalCreated{} }).
		Register(EventVotingOpened, func() eventsourcing.DomainEvent { return &VotingOpened{} }).
		Register(EventVoteCast, func() eventsourcing.DomainEvent { return &VoteCast{} }).
		Register(EventVotingClosed, func() eventsourcing.DomainEvent { return &VotingClosed{} }).
		Register(EventProposalExecuted, func() eventsourcing.DomainEvent { return &ProposalExecuted{} }).
		Register(EventProposalRejected, func() eventsourcing.DomainEvent { return &ProposalRejected{} })
}
