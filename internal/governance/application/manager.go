// Package application 实现治理提案的命令服务与参数变更执行。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/ledgercore/internal/governance/domain"
	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
	"github.com/wyfcoding/ledgercore/pkg/idgen"
)

const conflictRetries = 3

// ProposeCommand 创建提案请求。
type ProposeCommand struct {
	Proposer string
	Title    string
	Change   domain.ParameterChange
	Quorum   decimal.Decimal
	Majority decimal.Decimal
}

// Manager 治理提案命令服务。
type Manager struct {
	repo     *eventsourcing.Repository
	registry *ParameterRegistry
	logger   *slog.Logger
}

// NewManager 创建治理命令服务。
func NewManager(repo *eventsourcing.Repository, registry *ParameterRegistry, logger *slog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		registry: registry,
		logger:   logger.With("module", "governance"),
	}
}

// Propose 创建提案。
func (m *Manager) Propose(ctx context.Context, cmd ProposeCommand) (string, error) {
	proposalID := fmt.Sprintf("PROP-%d", idgen.GenID())
	proposal, err := domain.NewProposal(proposalID, cmd.Proposer, cmd.Title, cmd.Change, cmd.Quorum, cmd.Majority)
	if err != nil {
		return "", err
	}
	if err := m.repo.Save(ctx, proposal); err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "proposal created",
		"proposal_id", proposalID, "proposer", cmd.Proposer,
		"kind", string(cmd.Change.Kind), "target", cmd.Change.TargetID)
	return proposalID, nil
}

// OpenVoting 开启投票期。
func (m *Manager) OpenVoting(ctx context.Context, proposalID string) error {
	return m.withProposal(ctx, proposalID, func(p *domain.GovernanceProposal) error {
		return p.OpenVoting()
	})
}

// CastVote 计一票。重复投相同票为幂等空操作。
func (m *Manager) CastVote(ctx context.Context, proposalID, voter string, approve bool, weight decimal.Decimal) error {
	return m.withProposal(ctx, proposalID, func(p *domain.GovernanceProposal) error {
		return p.CastVote(voter, approve, weight)
	})
}

// CloseVoting 结束投票并计票。
func (m *Manager) CloseVoting(ctx context.Context, proposalID string) error {
	if err := m.withProposal(ctx, proposalID, func(p *domain.GovernanceProposal) error {
		return p.CloseVoting()
	}); err != nil {
		return err
	}
	proposal, err := m.Get(ctx, proposalID)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "voting closed",
		"proposal_id", proposalID, "status", string(proposal.Status),
		"for", proposal.TotalFor.String(), "against", proposal.TotalAgainst.String())
	return nil
}

// Execute 执行已通过的提案：先套用参数变更，再把提案标记为已执行。
func (m *Manager) Execute(ctx context.Context, proposalID string) error {
	proposal, err := m.Get(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != domain.StatusPassed {
		return errs.Mark(
			fmt.Errorf("%w: cannot execute while %s", domain.ErrInvalidState, proposal.Status),
			errs.KindBusiness)
	}

	if err := m.registry.ApplyChange(ctx, proposal.Change); err != nil {
		return fmt.Errorf("apply parameter change: %w", err)
	}
	if err := m.withProposal(ctx, proposalID, func(p *domain.GovernanceProposal) error {
		return p.MarkExecuted()
	}); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "proposal executed",
		"proposal_id", proposalID, "kind", string(proposal.Change.Kind),
		"target", proposal.Change.TargetID, "value", proposal.Change.Value.String())
	return nil
}

// Withdraw 撤回提案。
func (m *Manager) Withdraw(ctx context.Context, proposalID, reason string) error {
	return m.withProposal(ctx, proposalID, func(p *domain.GovernanceProposal) error {
		return p.Withdraw(reason)
	})
}

// Get 重建并返回提案当前状态。
func (m *Manager) Get(ctx context.Context, proposalID string) (*domain.GovernanceProposal, error) {
	proposal := domain.NewGovernanceProposal(proposalID)
	if err := m.repo.Load(ctx, proposalID, proposal); err != nil {
		return nil, err
	}
	return proposal, nil
}

// withProposal 加载、执行业务方法并持久化；并发冲突时从最新状态重试。
func (m *Manager) withProposal(ctx context.Context, proposalID string, fn func(p *domain.GovernanceProposal) error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		proposal := domain.NewGovernanceProposal(proposalID)
		if err := m.repo.Load(ctx, proposalID, proposal); err != nil {
			return err
		}
		if err := fn(proposal); err != nil {
			return err
		}
		if len(proposal.Uncommitted()) == 0 {
			return nil
		}

		err := m.repo.Save(ctx, proposal)
		if err == nil {
			return nil
		}
		if !errors.Is(err, eventsourcing.ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		m.logger.WarnContext(ctx, "proposal save conflicted, reloading",
			"proposal_id", proposalID, "attempt", attempt+1)
	}
	return lastErr
}
