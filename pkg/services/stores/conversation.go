package stores

import (
	"context"
	"errors"
	"time"

	"github.com/cupogo/andvari/models/oid"
	"github.com/redis/go-redis/v9"

	"github.com/liut/inkwell/pkg/models/convo"
)

// NewRedisStore keeps conversations in redis through rc.
func NewRedisStore(rc RedisClient) Storage {
	return &redisStore{rc: rc}
}

type redisStore struct {
	rc RedisClient
}

func newID() string {
	return oid.NewID(oid.OtEvent).String()
}

func (s *redisStore) ListConversation(ctx context.Context, owner string, limit int) (data convo.Conversations, err error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.rc.ZRevRange(ctx, ownerKey(owner), 0, stop).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = convKey(id)
	}
	vals, err := s.rc.MGet(ctx, keys...).Result()
	if err != nil {
		return
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			logger().Infow("conversation missing", "id", ids[i])
			continue
		}
		var cs convo.Conversation
		if err = cs.UnmarshalBinary([]byte(str)); err != nil {
			return nil, err
		}
		data = append(data, cs)
	}
	return
}

func (s *redisStore) GetConversation(ctx context.Context, id string) (*convo.Conversation, error) {
	if len(id) == 0 {
		return nil, ErrEmptyParam
	}
	b, err := s.rc.Get(ctx, convKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cs := new(convo.Conversation)
	if err = cs.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *redisStore) CreateConversation(ctx context.Context, owner, title string) (*convo.Conversation, error) {
	cs := &convo.Conversation{
		ID:        newID(),
		Title:     normalizeTitle(title),
		CreatedAt: time.Now().UTC(),
		Owner:     owner,
	}
	_, err := s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, convKey(cs.ID), cs, 0)
		pipe.ZAdd(ctx, ownerKey(owner), redis.Z{Score: float64(cs.CreatedAt.UnixNano()), Member: cs.ID})
		return nil
	})
	if err != nil {
		logger().Infow("create conversation fail", "owner", owner, "err", err)
		return nil, err
	}
	logger().Debugw("created conversation", "id", cs.ID, "owner", owner)
	return cs, nil
}

func (s *redisStore) ListMessage(ctx context.Context, cid string) (data convo.Messages, err error) {
	err = s.rc.LRange(ctx, msgsKey(cid), 0, -1).ScanSlice(&data)
	return
}

func (s *redisStore) AddMessage(ctx context.Context, cid string, msg *convo.Message) error {
	if len(cid) == 0 || msg == nil {
		return ErrEmptyParam
	}
	msg.ID = newID()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	err := s.rc.RPush(ctx, msgsKey(cid), msg).Err()
	if err != nil {
		logger().Infow("add message fail", "cid", cid, "err", err)
		return err
	}
	logger().Debugw("add message ok", "cid", cid, "id", msg.ID, "role", msg.Role)
	return nil
}

func (s *redisStore) Close() error {
	return s.rc.Close()
}

func convKey(id string) string     { return "conv-" + id }
func msgsKey(id string) string     { return "conv-msgs-" + id }
func ownerKey(owner string) string { return "convs-" + owner }
