package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loksaikotini/EduCast/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisClassroomRepo stores classrooms as JSON strings and chat history as
// a capped list per classroom.
type RedisClassroomRepo struct {
	rdb        *redis.Client
	historyCap int
}

// NewRedisClassroomRepo keeps at most historyCap messages per classroom;
// zero or less keeps everything.
func NewRedisClassroomRepo(rdb *redis.Client, historyCap int) *RedisClassroomRepo {
	return &RedisClassroomRepo{rdb: rdb, historyCap: historyCap}
}

func classroomKey(code string) string {
	return fmt.Sprintf("classrooms:%s", code)
}

func messagesKey(code string) string {
	return fmt.Sprintf("classrooms:%s:messages", code)
}

func (rr *RedisClassroomRepo) SaveClassroom(ctx context.Context, c models.Classroom) error {
	if c.Code == "" {
		return ErrInvalidClassroom
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return rr.rdb.Set(ctx, classroomKey(c.Code), b, 0).Err()
}

func (rr *RedisClassroomRepo) GetClassroom(ctx context.Context, code string) (models.Classroom, bool, error) {
	val, err := rr.rdb.Get(ctx, classroomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Classroom{}, false, nil
	}
	if err != nil {
		return models.Classroom{}, false, fmt.Errorf("get classroom %s: %w", code, err)
	}
	var c models.Classroom
	if err := json.Unmarshal(val, &c); err != nil {
		return models.Classroom{}, false, fmt.Errorf("decode classroom %s: %w", code, err)
	}
	return c, true, nil
}

func (rr *RedisClassroomRepo) AppendChatMessage(ctx context.Context, msg models.ChatMessage) error {
	if msg.ClassroomCode == "" {
		return ErrInvalidClassroom
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := messagesKey(msg.ClassroomCode)
	pipe := rr.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	if rr.historyCap > 0 {
		pipe.LTrim(ctx, key, int64(-rr.historyCap), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (rr *RedisClassroomRepo) ListChatMessages(ctx context.Context, code string, limit int) ([]models.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	vals, err := rr.rdb.LRange(ctx, messagesKey(code), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list chat messages %s: %w", code, err)
	}
	res := make([]models.ChatMessage, 0, len(vals))
	for _, v := range vals {
		var m models.ChatMessage
		if json.Unmarshal([]byte(v), &m) == nil {
			res = append(res, m)
		}
	}
	return res, nil
}
