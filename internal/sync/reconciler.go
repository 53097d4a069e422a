package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/conversations"
	"github.com/matheus3301/chatsync/internal/messages"
	"go.uber.org/zap"
)

// Reconciler catches the local view up after a reconnect. Events sent while
// the stream was down are only recoverable through the REST API.
type Reconciler struct {
	convs  *conversations.Manager
	msgs   *messages.Store
	reload ReloadFunc
	logger *zap.Logger
}

// ReloadFunc brings the newest history of an open conversation up to date
// and keeps its paging cursor consistent with what is stored.
type ReloadFunc func(ctx context.Context, conversationID string) error

// NewReconciler creates a new reconciler.
func NewReconciler(convs *conversations.Manager, msgs *messages.Store, reload ReloadFunc, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{convs: convs, msgs: msgs, reload: reload, logger: logger}
}

// OnConnect is registered as a transport hook. The first connection needs
// no catch-up; later ones refresh in the background so the read loop is not
// held up by REST calls.
func (r *Reconciler) OnConnect(ctx context.Context, epoch uint64) {
	if epoch <= 1 {
		return
	}
	go func() {
		if err := r.CatchUp(ctx); err != nil {
			r.logger.Warn("catch-up after reconnect failed", zap.Uint64("epoch", epoch), zap.Error(err))
		}
	}()
}

// CatchUp refreshes the conversation list and reloads the newest history of
// the active conversation.
func (r *Reconciler) CatchUp(ctx context.Context) error {
	res, err := r.convs.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	if res.Err != nil {
		r.logger.Debug("conversation list still degraded", zap.String("reason", string(res.Reason)))
	}

	active := r.msgs.Active()
	if active == "" {
		return nil
	}
	if err := r.reload(ctx, active); err != nil {
		return fmt.Errorf("reload %s: %w", active, err)
	}
	r.logger.Info("caught up after reconnect", zap.String("conversation_id", active))
	return nil
}
