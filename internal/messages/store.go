// Package messages keeps each conversation's message list ordered and free of
// duplicates while history pages, live events and locally composed messages
// are merged into it.
package messages

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// DefaultPageSize applies when LoadPage is called with a non-positive size.
const DefaultPageSize = 50

// Fetcher loads history pages.
type Fetcher interface {
	ListMessages(ctx context.Context, conversationID string, page, limit int) (*api.MessagePage, error)
}

// Update is the payload of bus.MessageUpserted.
type Update struct {
	ConversationID string
	Key            string
	Result         store.UpsertResult
	Delivery       store.DeliveryState
}

// PageLoaded is the payload of bus.MessagePageLoaded.
type PageLoaded struct {
	ConversationID string
	Page           int
	Count          int
	HasMore        bool
}

// ReadReceipt is the payload of bus.MessagesRead.
type ReadReceipt struct {
	ConversationID string
	ReaderID       string
	Marked         int64
}

// Store is the Message Store of a session.
type Store struct {
	db      *store.DB
	fetcher Fetcher
	actorID string
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	active string
}

// New creates a store over db. actorID identifies the local user.
func New(db *store.DB, fetcher Fetcher, actorID string, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, fetcher: fetcher, actorID: actorID, bus: b, logger: logger}
}

// Open makes conversationID the active conversation. Live messages for other
// conversations are not materialized.
func (s *Store) Open(conversationID string) {
	s.mu.Lock()
	s.active = conversationID
	s.mu.Unlock()
}

// CloseActive clears the active conversation if it is conversationID.
func (s *Store) CloseActive(conversationID string) {
	s.mu.Lock()
	if s.active == conversationID {
		s.active = ""
	}
	s.mu.Unlock()
}

// Active returns the active conversation id, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LoadPage fetches one history page. Page 1 replaces the acknowledged list
// of the conversation; later pages merge older messages in. Unsent local rows
// and messages that arrived live during the fetch survive both.
func (s *Store) LoadPage(ctx context.Context, conversationID string, page, pageSize int) (hasMore bool, err error) {
	page = max(page, 1)
	msgs, hasMore, err := s.fetch(ctx, conversationID, page, pageSize)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if page == 1 {
		err = s.db.ReplaceMessages(conversationID, msgs)
	} else {
		_, err = s.db.MergeMessages(msgs)
	}
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("store page %d of %s: %w", page, conversationID, err)
	}

	s.pageLoaded(conversationID, page, len(msgs), hasMore)
	return hasMore, nil
}

// CatchUp fetches the newest page after a reconnect. When the page overlaps
// the stored history it is merged in and older pages already loaded stay. A
// page with no overlap leaves a gap the pager cannot fill, so it replaces the
// acknowledged list instead and restart is called before the page is
// announced, so paging can start over at page 1.
func (s *Store) CatchUp(ctx context.Context, conversationID string, pageSize int, restart func(hasMore bool)) error {
	msgs, hasMore, err := s.fetch(ctx, conversationID, 1, pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var reset bool
	stored, overlap, err := s.db.HistoryOverlap(conversationID, msgs)
	if err == nil {
		switch {
		case overlap || len(msgs) == 0:
			_, err = s.db.MergeMessages(msgs)
		default:
			reset = true
			err = s.db.ReplaceMessages(conversationID, msgs)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("catch up %s: %w", conversationID, err)
	}

	if reset {
		if stored {
			s.logger.Info("history gap after reconnect, paging restarts", zap.String("conversation_id", conversationID))
		}
		if restart != nil {
			restart(hasMore)
		}
	}
	s.pageLoaded(conversationID, 1, len(msgs), hasMore)
	return nil
}

func (s *Store) fetch(ctx context.Context, conversationID string, page, pageSize int) ([]*store.Message, bool, error) {
	if conversationID == "" {
		return nil, false, chaterr.Invalid("missing conversation id")
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	res, err := s.fetcher.ListMessages(ctx, conversationID, page, pageSize)
	if err != nil {
		return nil, false, fmt.Errorf("load page %d of %s: %w", page, conversationID, err)
	}

	msgs := make([]*store.Message, 0, len(res.Messages))
	for _, m := range res.Messages {
		sm := m.ToStoreMessage()
		if sm.ConversationID == "" {
			sm.ConversationID = conversationID
		}
		if sm.ID == "" {
			s.logger.Warn("skipping history message without id", zap.String("conversation_id", conversationID))
			continue
		}
		msgs = append(msgs, sm)
	}
	return msgs, res.HasMore, nil
}

func (s *Store) pageLoaded(conversationID string, page, count int, hasMore bool) {
	s.logger.Debug("page loaded",
		zap.String("conversation_id", conversationID),
		zap.Int("page", page),
		zap.Int("count", count),
		zap.Bool("has_more", hasMore),
	)
	s.bus.Emit(bus.MessagePageLoaded, PageLoaded{
		ConversationID: conversationID,
		Page:           page,
		Count:          count,
		HasMore:        hasMore,
	})
}

// OnLiveMessage applies a streamed message if it targets the active
// conversation and asks views to scroll to the end. It reports whether the
// message was applied.
func (s *Store) OnLiveMessage(m protocol.Message) (bool, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == "" || string(m.ConversationID) != active {
		return false, nil
	}
	if _, err := s.Upsert(m.ToStoreMessage()); err != nil {
		return false, err
	}
	s.bus.Emit(bus.MessageScrollToEnd, active)
	return true, nil
}

// Upsert stores an acknowledged message. Repeating the same server id never
// adds a row, and a message carrying the client id of a local row replaces
// that row in place.
func (s *Store) Upsert(m *store.Message) (store.UpsertResult, error) {
	if m.ID == "" {
		return 0, chaterr.Invalid("upsert message without server id")
	}
	s.mu.Lock()
	res, err := s.db.UpsertMessage(m)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	s.bus.Emit(bus.MessageUpserted, Update{
		ConversationID: m.ConversationID,
		Key:            m.ID,
		Result:         res,
		Delivery:       store.Sent,
	})
	return res, nil
}

// AppendFailed records a message that could not be sent on any path so the
// composed text stays visible.
func (s *Store) AppendFailed(conversationID, clientID, content string, cause error) (*store.Message, error) {
	m := &store.Message{
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       s.actorID,
		Content:        content,
		CreatedAt:      time.Now(),
		Delivery:       store.Failed,
	}
	if cause != nil {
		m.ErrorMessage = cause.Error()
	}
	s.mu.Lock()
	err := s.db.InsertLocal(m)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("append failed message: %w", err)
	}
	s.bus.Emit(bus.MessageUpserted, Update{
		ConversationID: conversationID,
		Key:            clientID,
		Result:         store.Inserted,
		Delivery:       store.Failed,
	})
	return m, nil
}

// MarkPending moves a local row back to Pending before a retry.
func (s *Store) MarkPending(clientID string) (bool, error) {
	return s.setDelivery(clientID, store.Pending, "")
}

// MarkFailed moves a local row to Failed.
func (s *Store) MarkFailed(clientID string, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.setDelivery(clientID, store.Failed, msg)
}

func (s *Store) setDelivery(clientID string, state store.DeliveryState, errMsg string) (bool, error) {
	s.mu.Lock()
	ok, err := s.db.SetLocalDelivery(clientID, state, errMsg)
	var conv string
	if ok {
		if m, gerr := s.db.GetByClientID(clientID); gerr == nil && m != nil {
			conv = m.ConversationID
		}
	}
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("set delivery of %s: %w", clientID, err)
	}
	if ok {
		s.bus.Emit(bus.MessageUpserted, Update{
			ConversationID: conv,
			Key:            clientID,
			Result:         store.Updated,
			Delivery:       state,
		})
	}
	return ok, nil
}

// Discard removes a Failed local message. Sent and pending messages are
// kept.
func (s *Store) Discard(clientID string) (bool, error) {
	s.mu.Lock()
	m, err := s.db.GetByClientID(clientID)
	var removed bool
	if err == nil && m != nil {
		removed, err = s.db.DeleteFailed(clientID)
	}
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("discard %s: %w", clientID, err)
	}
	if removed {
		s.bus.Emit(bus.MessageDiscarded, Update{ConversationID: m.ConversationID, Key: clientID})
	}
	return removed, nil
}

// MarkConversationRead applies a read receipt. Receipts for the local
// user's own reads are ignored; any other reader marks every message of the
// conversation as read.
func (s *Store) MarkConversationRead(conversationID, readerID string) (int64, error) {
	if readerID != "" && readerID == s.actorID {
		return 0, nil
	}
	s.mu.Lock()
	n, err := s.db.MarkConversationRead(conversationID)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("mark %s read: %w", conversationID, err)
	}
	s.bus.Emit(bus.MessagesRead, ReadReceipt{ConversationID: conversationID, ReaderID: readerID, Marked: n})
	return n, nil
}

// Messages returns the conversation's messages in ascending creation order.
func (s *Store) Messages(conversationID string) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ListMessages(conversationID)
}

// Get returns the message composed with clientID, or nil.
func (s *Store) Get(clientID string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.GetByClientID(clientID)
}

// Search finds stored messages containing query, newest first. Only
// conversations loaded this session are searched.
func (s *Store) Search(query, conversationID string, limit int) ([]store.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, chaterr.Invalid("empty search query")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.SearchMessages(query, conversationID, limit)
}
