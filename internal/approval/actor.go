package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kmendoza-dev/approvalcore/internal/domain"
)

// ActorKind classifies the principal invoking a decision.
type ActorKind string

const (
	ActorAdmin  ActorKind = "admin"
	ActorBot    ActorKind = "bot"
	ActorSystem ActorKind = "system"
)

// Actor is the principal behind one decision call. BotID is required when
// Kind is ActorBot.
type Actor struct {
	Kind  ActorKind
	ID    string
	BotID string
}

// Flow selects which review queue the caller is deciding. Bots need a
// distinct capability flag per flow.
type Flow string

const (
	FlowOrder      Flow = "order"
	FlowWalletLoad Flow = "wallet_load"
)

// BotDirectory resolves automated reviewer records.
type BotDirectory interface {
	GetBot(ctx context.Context, id string) (*domain.Bot, error)
}

// Authorizer validates that an actor may decide requests on a given flow.
// Admin and system actors always pass; which admin may act on which request
// is the authentication layer's concern, not ours. Bot actors must resolve
// to an active record carrying the matching capability, and each failure
// mode is a distinct error because operators see it verbatim.
type Authorizer struct {
	bots BotDirectory
	log  *zap.Logger
}

func NewAuthorizer(bots BotDirectory, log *zap.Logger) *Authorizer {
	return &Authorizer{bots: bots, log: log}
}

func (a *Authorizer) Authorize(ctx context.Context, actor Actor, flow Flow) error {
	switch actor.Kind {
	case ActorAdmin, ActorSystem:
		return nil
	case ActorBot:
		if actor.BotID == "" {
			return ErrBotNotFound
		}
		b, err := a.bots.GetBot(ctx, actor.BotID)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBotNotFound
		}
		if !b.Active {
			return ErrBotInactive
		}
		allowed := b.CanApprovePayments
		if flow == FlowWalletLoad {
			allowed = b.CanApproveWalletLoads
		}
		if !allowed {
			a.log.Warn("bot lacks capability for flow",
				zap.String("bot_id", actor.BotID), zap.String("flow", string(flow)))
			return ErrBotForbidden
		}
		return nil
	default:
		return fmt.Errorf("unknown actor kind %q: %w", actor.Kind, ErrBotForbidden)
	}
}
