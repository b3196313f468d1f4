package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// consumeScript атомарно проверяет код: чтение, сравнение и удаление
// выполняются внутри Redis, поэтому один код не принимается дважды.
// Вызов чужой попытки не меняется.
const consumeScript = `
local data = redis.call("HMGET", KEYS[1], "code", "payload", "attempts", "tx")
if not data[1] then
  return {"expired"}
end
if data[4] ~= ARGV[2] then
  return {"foreign"}
end
local attempts = tonumber(data[3])
if attempts <= 0 then
  return {"exhausted"}
end
if data[1] == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return {"ok", data[2]}
end
attempts = attempts - 1
redis.call("HSET", KEYS[1], "attempts", attempts)
return {"mismatch", tostring(attempts)}
`

// OtpStore хранит вызовы в hash-ключах с TTL, общих для всех инстансов сервиса.
type OtpStore struct {
	client  *Client
	consume *redis.Script
}

// NewOtpStore создаёт Redis-реализацию OtpStore.
func NewOtpStore(client *Client) *OtpStore {
	return &OtpStore{client: client, consume: redis.NewScript(consumeScript)}
}

// Put заменяет вызов для телефона целиком: старый код перестаёт действовать.
func (s *OtpStore) Put(ctx context.Context, challenge domain.OtpChallenge) error {
	payload, err := json.Marshal(challenge.Payload)
	if err != nil {
		return fmt.Errorf("marshal otp payload: %w", err)
	}

	key := s.client.key("otp", challenge.Phone)
	_, err = s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", challenge.Code,
			"payload", payload,
			"attempts", challenge.AttemptsLeft,
			"tx", challenge.Payload.TransactionID,
		)
		pipe.PExpireAt(ctx, key, challenge.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}
	return nil
}

func (s *OtpStore) Consume(ctx context.Context, phone, transactionID, code string) (domain.OtpPayload, error) {
	res, err := s.consume.Run(ctx, s.client.rdb, []string{s.client.key("otp", phone)}, code, transactionID).StringSlice()
	if err != nil {
		return domain.OtpPayload{}, fmt.Errorf("consume otp challenge: %w", err)
	}
	if len(res) == 0 {
		return domain.OtpPayload{}, fmt.Errorf("consume otp challenge: empty script reply")
	}

	switch res[0] {
	case "ok":
		var payload domain.OtpPayload
		if len(res) < 2 {
			return domain.OtpPayload{}, fmt.Errorf("consume otp challenge: missing payload")
		}
		if err := json.Unmarshal([]byte(res[1]), &payload); err != nil {
			return domain.OtpPayload{}, fmt.Errorf("decode otp payload: %w", err)
		}
		return payload, nil
	case "mismatch", "foreign":
		return domain.OtpPayload{}, domain.ErrOtpMismatch
	case "exhausted":
		return domain.OtpPayload{}, domain.ErrOtpRetriesExhausted
	default:
		return domain.OtpPayload{}, domain.ErrOtpExpired
	}
}

func (s *OtpStore) Invalidate(ctx context.Context, phone string) error {
	if err := s.client.rdb.Del(ctx, s.client.key("otp", phone)).Err(); err != nil {
		return fmt.Errorf("invalidate otp challenge: %w", err)
	}
	return nil
}

var _ domain.OtpStore = (*OtpStore)(nil)
