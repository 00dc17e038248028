package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

const periodField = "_period"

// rolloverLua is shared by the scripts below. It expects KEYS[1] to be the
// counters hash, KEYS[2] the history hash, period in the local "period" and
// the monthly counter names in the local "monthly".
const rolloverLua = `
local function rollover(period, monthly)
  local marker = redis.call('HGET', KEYS[1], '_period')
  if marker and marker >= period then
    return 0
  end
  for _, field in ipairs(monthly) do
    local v = redis.call('HGET', KEYS[1], field)
    if marker and v and tonumber(v) ~= 0 then
      redis.call('HSET', KEYS[2], marker .. ':' .. field, v)
    end
    redis.call('HDEL', KEYS[1], field)
  end
  redis.call('HSET', KEYS[1], '_period', period)
  return 1
end
`

// incrementScript checks the limit and increments in one step.
// ARGV: workspace, counter, delta, limit, period, monthly counters...
// KEYS: counters hash, history hash, workspace set.
var incrementScript = redis.NewScript(rolloverLua + `
local monthly = {}
for i = 6, #ARGV do monthly[#monthly + 1] = ARGV[i] end
rollover(ARGV[5], monthly)
redis.call('SADD', KEYS[3], ARGV[1])

local current = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '0')
local delta = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
if limit >= 0 and current + delta > limit then
  return {0, current}
end
return {1, redis.call('HINCRBY', KEYS[1], ARGV[2], delta)}
`)

// resetScript rolls a workspace over to a period.
// ARGV: period, monthly counters...
var resetScript = redis.NewScript(rolloverLua + `
local monthly = {}
for i = 2, #ARGV do monthly[#monthly + 1] = ARGV[i] end
return rollover(ARGV[1], monthly)
`)

// decrementScript subtracts with a floor of zero.
// ARGV: workspace, counter, delta
var decrementScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '0')
local v = current - tonumber(ARGV[3])
if v < 0 then v = 0 end
redis.call('HSET', KEYS[1], ARGV[2], v)
redis.call('SADD', KEYS[2], ARGV[1])
return v
`)

// RedisStore keeps counters in one hash per workspace. Every read-modify-write
// runs as a Lua script so concurrent requests from many instances cannot
// overshoot a limit.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) countersKey(ws string) string { return s.prefix + ":" + ws + ":counters" }
func (s *RedisStore) historyKey(ws string) string  { return s.prefix + ":" + ws + ":history" }
func (s *RedisStore) workspacesKey() string        { return s.prefix + ":workspaces" }

func monthlyArgs(args ...any) []any {
	for _, c := range subscription.MonthlyResources {
		args = append(args, string(c))
	}
	return args
}

func (s *RedisStore) Increment(ctx context.Context, workspaceID string, counter subscription.Resource, delta, limit int64, period string) (int64, bool, error) {
	keys := []string{s.countersKey(workspaceID), s.historyKey(workspaceID), s.workspacesKey()}
	args := monthlyArgs(workspaceID, string(counter), delta, limit, period)

	res, err := incrementScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("increment %s: %w", counter, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("increment %s: unexpected script reply %v", counter, res)
	}
	return res[1], res[0] == 1, nil
}

func (s *RedisStore) Decrement(ctx context.Context, workspaceID string, counter subscription.Resource, delta int64) (int64, error) {
	keys := []string{s.countersKey(workspaceID), s.workspacesKey()}
	v, err := decrementScript.Run(ctx, s.client, keys, workspaceID, string(counter), delta).Int64()
	if err != nil {
		return 0, fmt.Errorf("decrement %s: %w", counter, err)
	}
	return v, nil
}

func (s *RedisStore) Get(ctx context.Context, workspaceID, period string) (Counters, error) {
	raw, err := s.client.HGetAll(ctx, s.countersKey(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	stale := raw[periodField] < period
	out := make(Counters, len(raw))
	for field, value := range raw {
		if field == periodField {
			continue
		}
		c := subscription.Resource(field)
		if stale && c.Monthly() {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", field, err)
		}
		out[c] = n
	}
	return out, nil
}

func (s *RedisStore) ResetMonthly(ctx context.Context, workspaceID, period string) (bool, error) {
	keys := []string{s.countersKey(workspaceID), s.historyKey(workspaceID)}
	n, err := resetScript.Run(ctx, s.client, keys, monthlyArgs(period)...).Int()
	if err != nil {
		return false, fmt.Errorf("reset monthly counters: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Workspaces(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.workspacesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) History(ctx context.Context, workspaceID string) ([]PeriodUsage, error) {
	raw, err := s.client.HGetAll(ctx, s.historyKey(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read usage history: %w", err)
	}
	out := make([]PeriodUsage, 0, len(raw))
	for field, value := range raw {
		period, counter, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("usage history %s: %w", field, err)
		}
		out = append(out, PeriodUsage{Period: period, Counter: subscription.Resource(counter), Value: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].Counter < out[j].Counter
	})
	return out, nil
}

func (s *RedisStore) DeleteHistoryBefore(ctx context.Context, period string) (int, error) {
	ids, err := s.Workspaces(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, ws := range ids {
		fields, err := s.client.HKeys(ctx, s.historyKey(ws)).Result()
		if err != nil {
			return removed, fmt.Errorf("read usage history: %w", err)
		}
		var old []string
		for _, f := range fields {
			if p, _, _ := strings.Cut(f, ":"); p < period {
				old = append(old, f)
			}
		}
		if len(old) == 0 {
			continue
		}
		n, err := s.client.HDel(ctx, s.historyKey(ws), old...).Result()
		if err != nil {
			return removed, fmt.Errorf("delete usage history: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}
