package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/conversations"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/messages"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/rooms"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string      // optional override for testing; empty = use default
	Logger      *zap.Logger // optional; nil = session log file plus stderr
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAPIClient,
			provideChannel,
			provideRooms,
			provideMessages,
			providePresence,
			provideSender,
			provideConversations,
			provideEngine,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config == nil {
		return config.Default(), nil
	}
	return p.Config, p.Config.Validate()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open()
	if err != nil {
		return nil, err
	}
	logger.Info("store initialized", zap.String("name", db.Name()))
	return db, nil
}

func provideAPIClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.New(cfg.APIBaseURL,
		api.WithTokenSource(api.StaticToken(cfg.Token)),
		api.WithTimeout(cfg.RequestTimeout.Duration),
		api.WithLogger(logger.Named("api")),
	)
}

func provideChannel(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Channel {
	return transport.New(transport.Config{
		URL:                  cfg.StreamEndpoint(),
		Token:                cfg.Token,
		ReconnectBaseDelay:   cfg.Reconnect.BaseDelay.Duration,
		ReconnectMaxDelay:    cfg.Reconnect.MaxDelay.Duration,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval.Duration,
	}, transport.WebSocketDialer{}, b, logger.Named("transport"))
}

func provideRooms(ch *transport.Channel, b *bus.Bus, logger *zap.Logger) *rooms.Manager {
	return rooms.New(ch, b, logger.Named("rooms"))
}

func provideMessages(db *store.DB, client *api.Client, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *messages.Store {
	return messages.New(db, client, cfg.ActorID, b, logger.Named("messages"))
}

func providePresence(ch *transport.Channel, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *presence.Coordinator {
	return presence.New(ch, cfg.TypingTimeout.Duration, b, logger.Named("presence"))
}

func provideSender(ch *transport.Channel, client *api.Client, msgs *messages.Store, pc *presence.Coordinator, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(ch, client, msgs, pc, b, logger.Named("outbox"))
}

func provideConversations(db *store.DB, client *api.Client, ch *transport.Channel, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *conversations.Manager {
	fallback := make([]store.Conversation, 0, len(cfg.Fallback))
	for _, f := range cfg.Fallback {
		fallback = append(fallback, store.Conversation{
			ID:              f.ID,
			DisplayName:     f.DisplayName,
			Avatar:          conversations.Avatar(f.Role),
			CounterpartID:   f.CounterpartID,
			CounterpartRole: f.Role,
		})
	}
	return conversations.New(db, client, ch, cfg.ActorID, fallback, b, logger.Named("conversations"))
}

type engineParams struct {
	fx.In

	Config        *config.Config
	Channel       *transport.Channel
	Rooms         *rooms.Manager
	Messages      *messages.Store
	Sender        *outbox.Sender
	Conversations *conversations.Manager
	Presence      *presence.Coordinator
	Bus           *bus.Bus
	Logger        *zap.Logger
}

func provideEngine(p engineParams) *intsync.Engine {
	return intsync.NewEngine(intsync.Deps{
		Transport:     p.Channel,
		Rooms:         p.Rooms,
		Messages:      p.Messages,
		Sender:        p.Sender,
		Conversations: p.Conversations,
		Presence:      p.Presence,
		Bus:           p.Bus,
		Identity:      intsync.StaticIdentity(p.Config.ActorID),
		PageSize:      p.Config.PageSize,
		Logger:        p.Logger.Named("engine"),
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, engine *intsync.Engine, logger *zap.Logger) {
	// The engine outlives the start hook's context and a slow backend must
	// not hold up the control socket, so it starts in the background.
	engineCtx, cancelEngine := context.WithCancel(context.Background())
	engineStarted := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start control server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			go func() {
				defer close(engineStarted)
				if err := engine.Start(engineCtx); err != nil {
					logger.Error("engine failed to start", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			cancelEngine()
			select {
			case <-engineStarted:
			case <-ctx.Done():
				logger.Warn("engine start still running at shutdown")
			}
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
