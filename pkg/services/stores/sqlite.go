package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/spf13/cast"

	"github.com/liut/inkwell/data/schemas"
	"github.com/liut/inkwell/pkg/models/convo"
)

// fixed width keeps lexical order equal to time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (Storage, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, err
	}
	if err = initSchemas(ctx, db); err != nil {
		_ = db.Close()
		logger().Warnw("sqlite schema creation fail", "path", path, "err", err)
		return nil, err
	}
	logger().Infow("sqlite store initialized", "path", path)
	return &sqliteStore{db: db}, nil
}

func initSchemas(ctx context.Context, db *sql.DB) error {
	fsys := schemas.SchemaFS()
	names, err := fs.Glob(fsys, "sqlite_*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		if _, err = db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return nil
}

func (s *sqliteStore) ListConversation(ctx context.Context, owner string, limit int) (data convo.Conversations, err error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner, title, created_at FROM conversations
		WHERE owner = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, owner, limit)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var cs convo.Conversation
		var created any
		if err = rows.Scan(&cs.ID, &cs.Owner, &cs.Title, &created); err != nil {
			return nil, err
		}
		if cs.CreatedAt, err = cast.ToTimeE(created); err != nil {
			return nil, err
		}
		data = append(data, cs)
	}
	err = rows.Err()
	return
}

func (s *sqliteStore) GetConversation(ctx context.Context, id string) (*convo.Conversation, error) {
	if len(id) == 0 {
		return nil, ErrEmptyParam
	}
	cs := new(convo.Conversation)
	var created any
	err := s.db.QueryRowContext(ctx, `SELECT id, owner, title, created_at FROM conversations WHERE id = ?`, id).
		Scan(&cs.ID, &cs.Owner, &cs.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if cs.CreatedAt, err = cast.ToTimeE(created); err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *sqliteStore) CreateConversation(ctx context.Context, owner, title string) (*convo.Conversation, error) {
	cs := &convo.Conversation{
		ID:        newID(),
		Title:     normalizeTitle(title),
		CreatedAt: time.Now().UTC(),
		Owner:     owner,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations (id, owner, title, created_at) VALUES (?,?,?,?)`,
		cs.ID, cs.Owner, cs.Title, cs.CreatedAt.Format(timeLayout))
	if err != nil {
		logger().Infow("create conversation fail", "owner", owner, "err", err)
		return nil, err
	}
	return cs, nil
}

func (s *sqliteStore) ListMessage(ctx context.Context, cid string) (data convo.Messages, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY seq ASC`, cid)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var m convo.Message
		var created any
		if err = rows.Scan(&m.ID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = cast.ToTimeE(created); err != nil {
			return nil, err
		}
		data = append(data, m)
	}
	err = rows.Err()
	return
}

func (s *sqliteStore) AddMessage(ctx context.Context, cid string, msg *convo.Message) error {
	if len(cid) == 0 || msg == nil {
		return ErrEmptyParam
	}
	msg.ID = newID()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?,?,?,?,?)`,
		msg.ID, cid, string(msg.Role), msg.Content, msg.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		logger().Infow("add message fail", "cid", cid, "err", err)
	}
	return err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
