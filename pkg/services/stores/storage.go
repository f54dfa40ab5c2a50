package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/liut/inkwell/pkg/models/convo"
	"github.com/liut/inkwell/pkg/settings"
)

// errors
var (
	ErrNotFound   = errors.New("not found")
	ErrEmptyParam = errors.New("empty param")
)

// ConversationStore keeps conversations and their durable messages.
type ConversationStore interface {
	// ListConversation returns the owner's conversations, newest first. limit <= 0 means all.
	ListConversation(ctx context.Context, owner string, limit int) (convo.Conversations, error)
	GetConversation(ctx context.Context, id string) (*convo.Conversation, error)
	CreateConversation(ctx context.Context, owner, title string) (*convo.Conversation, error)

	// ListMessage returns messages in creation order.
	ListMessage(ctx context.Context, cid string) (convo.Messages, error)
	// AddMessage assigns a durable ID to msg and appends it.
	AddMessage(ctx context.Context, cid string, msg *convo.Message) error
}

// Storage is a ConversationStore holding an open connection.
type Storage interface {
	ConversationStore
	Close() error
}

var (
	stoOnce sync.Once
	stoS    Storage
)

// Open returns a Storage for dsn, "redis://..." or "sqlite:<path>"
func Open(ctx context.Context, dsn string) (Storage, error) {
	switch {
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		rc, err := OpenRedis(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rc), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"))
	}
	return nil, fmt.Errorf("unsupported store dsn %q", dsn)
}

// Sgt start and return a singleton instance of Storage
func Sgt() Storage {
	stoOnce.Do(func() {
		var err error
		stoS, err = Open(context.Background(), settings.Current.StoreDSN)
		if err != nil {
			logger().Panicw("open store fail", "dsn", settings.Current.StoreDSN, "err", err)
		}
	})
	return stoS
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if len(title) == 0 {
		return convo.DefaultTitle
	}
	return title
}
