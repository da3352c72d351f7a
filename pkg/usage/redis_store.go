package usage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

// DefaultRedisKeyPrefix prefixes every ledger key.
const DefaultRedisKeyPrefix = "usage"

// consumeScript creates the record hash if missing, increments it when the
// counter is at most the given room and stores the grant. Numbers stay
// decimal strings so nothing is rounded through Lua doubles.
//
// KEYS[1] record hash, KEYS[2] grants hash
// ARGV amount, room, user_id, resource, period_key, period_start, period_end,
// now, consumption_id, grants_expire_at (unix seconds)
var consumeScript = redis.NewScript(`
local function le(a, b)
	if #a ~= #b then
		return #a < #b
	end
	return a <= b
end
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1],
		'used', '0',
		'user_id', ARGV[3],
		'resource', ARGV[4],
		'period_key', ARGV[5],
		'period_start', ARGV[6],
		'period_end', ARGV[7],
		'created_at', ARGV[8],
		'updated_at', ARGV[8])
end
local used = redis.call('HGET', KEYS[1], 'used')
local applied = 0
if ARGV[2] ~= '-1' and le(used, ARGV[2]) then
	if ARGV[1] ~= '0' then
		redis.call('HINCRBY', KEYS[1], 'used', ARGV[1])
		redis.call('HSET', KEYS[1], 'updated_at', ARGV[8])
		redis.call('HSET', KEYS[2], ARGV[9], ARGV[1])
		redis.call('EXPIREAT', KEYS[2], ARGV[10])
	end
	applied = 1
end
return {applied, redis.call('HGETALL', KEYS[1])}
`)

// releaseScript decrements the record once per granted consumption. A granted
// entry holds its amount; a released one holds the amount prefixed with '-'.
//
// KEYS[1] record hash, KEYS[2] grants hash
// ARGV amount, consumption_id, now
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {-1}
end
local g = redis.call('HGET', KEYS[2], ARGV[2])
local applied = 0
if g == ARGV[1] then
	redis.call('HINCRBY', KEYS[1], 'used', '-' .. ARGV[1])
	redis.call('HSET', KEYS[2], ARGV[2], '-' .. ARGV[1])
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
	applied = 1
elseif g ~= '-' .. ARGV[1] then
	return {-2}
end
return {applied, redis.call('HGETALL', KEYS[1])}
`)

// RedisStore keeps each record in a hash and its grants in a second hash that
// expires GrantRetention after the period ends.
// Both keys share a hash tag so the scripts stay valid on Redis Cluster.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides DefaultRedisKeyPrefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore returns a ledger backed by client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) GetOrCreate(ctx context.Context, key RecordKey, period Period) (Record, error) {
	rec, _, err := s.consume(ctx, key, period, Consumption{}, math.MaxInt64)
	return rec, err
}

func (s *RedisStore) Consume(ctx context.Context, c Consumption, period Period, limit int64) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}
	return s.consume(ctx, c.Key(), period, c, room(c.Amount, limit))
}

// consume runs consumeScript. A zero c.Amount only creates the record.
func (s *RedisStore) consume(ctx context.Context, key RecordKey, period Period, c Consumption, r int64) (Record, bool, error) {
	id := key.String()
	res, err := consumeScript.Run(ctx, s.client, s.keys(id),
		strconv.FormatInt(c.Amount, 10),
		strconv.FormatInt(max(r, -1), 10),
		key.UserID,
		string(key.Resource),
		key.PeriodKey,
		formatTime(period.Start),
		formatTime(period.End),
		formatTime(time.Now().UTC()),
		c.ID,
		strconv.FormatInt(grantExpiry(period).Unix(), 10),
	).Slice()
	if err != nil {
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}
	return parseScriptReply(id, res)
}

func (s *RedisStore) Release(ctx context.Context, c Consumption) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}

	id := c.Key().String()
	res, err := releaseScript.Run(ctx, s.client, s.keys(id),
		strconv.FormatInt(c.Amount, 10),
		c.ID,
		formatTime(time.Now().UTC()),
	).Slice()
	if err != nil {
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}
	return parseScriptReply(id, res)
}

func (s *RedisStore) Get(ctx context.Context, key RecordKey) (Record, error) {
	id := key.String()
	keys := s.keys(id)

	fields, err := s.client.HGetAll(ctx, keys[0]).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, errors.Join(ErrStoreFailure, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrRecordNotFound
	}
	return recordFromHash(id, fields)
}

func (s *RedisStore) keys(id string) []string {
	base := s.prefix + ":{" + id + "}"
	return []string{base, base + ":grants"}
}

func parseScriptReply(id string, res []any) (Record, bool, error) {
	if len(res) == 0 {
		return Record{}, false, errors.Join(ErrStoreFailure, errors.New("empty script reply"))
	}
	applied, ok := res[0].(int64)
	if !ok {
		return Record{}, false, errors.Join(ErrStoreFailure, fmt.Errorf("unexpected script reply %T", res[0]))
	}
	switch applied {
	case -1:
		return Record{}, false, ErrRecordNotFound
	case -2:
		return Record{}, false, ErrConsumptionNotFound
	}
	if len(res) != 2 {
		return Record{}, false, errors.Join(ErrStoreFailure, fmt.Errorf("unexpected script reply length %d", len(res)))
	}

	flat, _ := res[1].([]any)
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}

	rec, err := recordFromHash(id, fields)
	if err != nil {
		return Record{}, false, err
	}
	return rec, applied == 1, nil
}

func recordFromHash(id string, fields map[string]string) (Record, error) {
	used, err := strconv.ParseInt(fields["used"], 10, 64)
	if err != nil {
		return Record{}, errors.Join(ErrStoreFailure, fmt.Errorf("parse used for %s: %w", id, err))
	}

	rec := Record{
		ID:        id,
		UserID:    fields["user_id"],
		Resource:  plans.Resource(fields["resource"]),
		PeriodKey: fields["period_key"],
		Used:      used,
	}

	for name, dst := range map[string]*time.Time{
		"period_start": &rec.PeriodStart,
		"period_end":   &rec.PeriodEnd,
		"created_at":   &rec.CreatedAt,
		"updated_at":   &rec.UpdatedAt,
	} {
		t, err := time.Parse(time.RFC3339Nano, fields[name])
		if err != nil {
			return Record{}, errors.Join(ErrStoreFailure, fmt.Errorf("parse %s for %s: %w", name, id, err))
		}
		*dst = t
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ Store = (*RedisStore)(nil)
