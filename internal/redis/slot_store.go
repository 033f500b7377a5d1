package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/slot-booking/internal/slot"
)

const reservedIndexKey = "slots:reserved"

// SlotStore keeps each doctor day in one hash (field = slot id, value = JSON).
// Every multi-step mutation runs as a Lua script, which Redis executes atomically.
type SlotStore struct {
	client *redis.Client
}

func NewSlotStore(client *redis.Client) *SlotStore {
	return &SlotStore{client: client}
}

func dayKey(doctorID uuid.UUID, date string) string {
	return fmt.Sprintf("slots:%s:%s", doctorID, date)
}

func indexMember(key slot.Key) string {
	return key.DoctorID.String() + "|" + key.Date + "|" + key.SlotID
}

var casScript = redis.NewScript(`
local raw = redis.call("HGET", KEYS[1], ARGV[1])
if not raw then
  return -1
end
local s = cjson.decode(raw)
if s.status ~= ARGV[2] then
  return 0
end
if ARGV[3] ~= "" and s.appointment_id ~= ARGV[3] then
  return 0
end
s.status = ARGV[4]
s.updated_at = ARGV[6]
if ARGV[5] ~= "" then
  s.appointment_id = ARGV[5]
  s.reserved_at = ARGV[6]
  redis.call("ZADD", KEYS[2], ARGV[8], ARGV[7])
else
  s.appointment_id = nil
  s.reserved_at = nil
  redis.call("ZREM", KEYS[2], ARGV[7])
end
redis.call("HSET", KEYS[1], ARGV[1], cjson.encode(s))
return 1
`)

var replaceDayScript = redis.NewScript(`
local all = redis.call("HGETALL", KEYS[1])
for i = 1, #all, 2 do
  local s = cjson.decode(all[i + 1])
  if s.status ~= "reserved" then
    redis.call("HDEL", KEYS[1], all[i])
  end
end
for i = 1, #ARGV, 2 do
  redis.call("HSETNX", KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

var deleteDayScript = redis.NewScript(`
local all = redis.call("HGETALL", KEYS[1])
for i = 1, #all, 2 do
  local s = cjson.decode(all[i + 1])
  if s.status == "reserved" then
    return 0
  end
end
redis.call("DEL", KEYS[1])
return 1
`)

func decodeSlot(raw string) (*slot.Slot, error) {
	var s slot.Slot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode slot: %w", err)
	}
	return &s, nil
}

func (s *SlotStore) Get(ctx context.Context, key slot.Key) (*slot.Slot, error) {
	raw, err := s.client.HGet(ctx, dayKey(key.DoctorID, key.Date), key.SlotID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, slot.ErrSlotNotFound
		}
		return nil, err
	}
	return decodeSlot(raw)
}

func (s *SlotStore) ListDay(ctx context.Context, doctorID uuid.UUID, date string) ([]slot.Slot, error) {
	all, err := s.client.HGetAll(ctx, dayKey(doctorID, date)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]slot.Slot, 0, len(all))
	for _, raw := range all {
		sl, err := decodeSlot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *sl)
	}
	return out, nil
}

func (s *SlotStore) ListDays(ctx context.Context, doctorID uuid.UUID, from, to string) ([]slot.Slot, error) {
	start, err := slot.ParseDate(from)
	if err != nil {
		return nil, err
	}
	end, err := slot.ParseDate(to)
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	var cmds []*redis.MapStringStringCmd
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		cmds = append(cmds, pipe.HGetAll(ctx, dayKey(doctorID, d.Format(slot.DateLayout))))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []slot.Slot
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			sl, err := decodeSlot(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, *sl)
		}
	}
	return out, nil
}

func (s *SlotStore) ReplaceDay(ctx context.Context, doctorID uuid.UUID, date string, slots []slot.Slot) error {
	args := make([]any, 0, len(slots)*2)
	for _, sl := range slots {
		data, err := json.Marshal(sl)
		if err != nil {
			return fmt.Errorf("encode slot %s: %w", sl.SlotID, err)
		}
		args = append(args, sl.SlotID, string(data))
	}
	return replaceDayScript.Run(ctx, s.client, []string{dayKey(doctorID, date)}, args...).Err()
}

func (s *SlotStore) DeleteDay(ctx context.Context, doctorID uuid.UUID, date string) error {
	n, err := deleteDayScript.Run(ctx, s.client, []string{dayKey(doctorID, date)}).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return slot.ErrDayHasReservations
	}
	return nil
}

func (s *SlotStore) CompareAndSwap(ctx context.Context, key slot.Key, expect slot.Expectation, change slot.Change) (bool, error) {
	expectAppt := ""
	if expect.AppointmentID != nil {
		expectAppt = expect.AppointmentID.String()
	}
	newAppt := ""
	if change.Status == slot.StatusReserved && change.AppointmentID != nil {
		newAppt = change.AppointmentID.String()
	}
	at := change.At.UTC()

	n, err := casScript.Run(ctx, s.client,
		[]string{dayKey(key.DoctorID, key.Date), reservedIndexKey},
		key.SlotID,
		string(expect.Status),
		expectAppt,
		string(change.Status),
		newAppt,
		at.Format(time.RFC3339Nano),
		indexMember(key),
		strconv.FormatInt(at.UnixMilli(), 10),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SlotStore) ListReserved(ctx context.Context, before time.Time, limit int) ([]slot.Slot, error) {
	members, err := s.client.ZRangeByScore(ctx, reservedIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]slot.Slot, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "|", 3)
		if len(parts) != 3 {
			continue
		}
		doctorID, err := uuid.Parse(parts[0])
		if err != nil {
			continue
		}
		sl, err := s.Get(ctx, slot.Key{DoctorID: doctorID, Date: parts[1], SlotID: parts[2]})
		if err != nil {
			if errors.Is(err, slot.ErrSlotNotFound) {
				continue
			}
			return nil, err
		}
		if sl.Status == slot.StatusReserved {
			out = append(out, *sl)
		}
	}
	return out, nil
}
