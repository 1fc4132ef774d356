package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 1
	rotateStatusInactive int64 = 2
	rotateStatusExpired  int64 = 3
	rotateStatusRotated  int64 = 4
)

// rotateRefreshScript is the rotation CAS. It returns {status} when the record
// is missing, otherwise {status, state, sub, fid, scope, iat, exp, next} as the
// record was before the call.
const rotateRefreshScript = `
local record_key = KEYS[1]
local next_key = KEYS[2]
local family_prefix = ARGV[1]
local subject_prefix = ARGV[2]
local presented = ARGV[3]
local now_ms = tonumber(ARGV[4])
local next_id = ARGV[5]
local next_hash = ARGV[6]
local next_iat = ARGV[7]
local next_exp = ARGV[8]
local ttl_ms = tonumber(ARGV[9])

local f = redis.call("HMGET", record_key, "state", "hash", "sub", "fid", "scope", "iat", "exp", "next")
if not f[1] then
  return {0}
end

local snapshot = {0, f[1], f[3], f[4], f[5], f[6], f[7], f[8]}

if f[2] ~= presented then
  snapshot[1] = 1
  return snapshot
end
if f[1] ~= "active" then
  snapshot[1] = 2
  return snapshot
end
if tonumber(f[7]) < now_ms then
  snapshot[1] = 3
  return snapshot
end

redis.call("HSET", record_key, "state", "rotated", "next", next_id)
redis.call("PEXPIRE", record_key, ttl_ms)

redis.call("HSET", next_key,
  "sub", f[3], "fid", f[4], "scope", f[5],
  "iat", next_iat, "exp", next_exp,
  "state", "active", "hash", next_hash)
redis.call("PEXPIRE", next_key, ttl_ms)

local family_key = family_prefix .. f[4]
redis.call("SADD", family_key, next_id)
redis.call("PEXPIRE", family_key, ttl_ms)
redis.call("PEXPIRE", subject_prefix .. f[3], ttl_ms)

snapshot[1] = 4
return snapshot
`

const revokeFamilyFunc = `
local function revoke_family(family_key, record_prefix)
  local changed = 0
  for _, id in ipairs(redis.call("SMEMBERS", family_key)) do
    local key = record_prefix .. id
    local state = redis.call("HGET", key, "state")
    if state and state ~= "revoked" then
      redis.call("HSET", key, "state", "revoked")
      changed = changed + 1
    end
  end
  return changed
end
`

const revokeFamilyScript = revokeFamilyFunc + `
return revoke_family(KEYS[1], ARGV[1])
`

const revokeSubjectScript = revokeFamilyFunc + `
local changed = 0
for _, fid in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  changed = changed + revoke_family(ARGV[1] .. fid, ARGV[2])
end
return changed
`

var (
	rotateRefreshLua = redis.NewScript(rotateRefreshScript)
	revokeFamilyLua  = redis.NewScript(revokeFamilyScript)
	revokeSubjectLua = redis.NewScript(revokeSubjectScript)
)

// RedisStore keeps each record in a hash at <prefix>rt:<id>, the ids of a
// family in a set at <prefix>rtf:<family>, and the families of a subject in a
// set at <prefix>rts:<subject>. Keys live until the newest record's expiry plus
// the configured retention.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a RedisStore. retention is how long records outlive
// their expiry for expired/reuse classification.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) recordPrefix() string { return s.prefix + "rt:" }
func (s *RedisStore) familyPrefix() string { return s.prefix + "rtf:" }
func (s *RedisStore) subjectPrefix() string { return s.prefix + "rts:" }

func (s *RedisStore) recordKey(id string) string { return s.recordPrefix() + id }
func (s *RedisStore) familyKey(familyID string) string { return s.familyPrefix() + familyID }
func (s *RedisStore) subjectKey(subject string) string { return s.subjectPrefix() + subject }

// Create persists rec and indexes it under its family and subject.
//
//	Performance: one MULTI/EXEC with 6 commands.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	ctx, span := startSpan(ctx, "redis.refresh.create", "MULTI")
	defer span.End()

	if rec.ID == "" || rec.FamilyID == "" || rec.Subject == "" {
		return fmt.Errorf("%w: id, family and subject are required", ErrCorrupt)
	}
	ttl := rec.ExpiresAt.Sub(rec.IssuedAt) + s.retention
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive lifetime", ErrCorrupt)
	}

	key := s.recordKey(rec.ID)
	familyKey := s.familyKey(rec.FamilyID)
	subjectKey := s.subjectKey(rec.Subject)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeFields(rec))
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, familyKey, rec.ID)
		pipe.PExpire(ctx, familyKey, ttl)
		pipe.SAdd(ctx, subjectKey, rec.FamilyID)
		pipe.PExpire(ctx, subjectKey, ttl)
		return nil
	})
	if err != nil {
		return fail(span, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return nil
}

// Rotate runs the rotation CAS as a single Lua script.
//
//	Performance: one EVALSHA round trip.
func (s *RedisStore) Rotate(ctx context.Context, id string, presented [32]byte, next Successor, now time.Time) (Record, error) {
	ctx, span := startSpan(ctx, "redis.refresh.rotate", "EVALSHA")
	defer span.End()

	ttl := next.ExpiresAt.Sub(now) + s.retention
	if ttl <= 0 || next.ID == "" {
		return Record{}, fmt.Errorf("%w: invalid successor", ErrCorrupt)
	}

	res, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.recordKey(id), s.recordKey(next.ID)},
		s.familyPrefix(),
		s.subjectPrefix(),
		string(presented[:]),
		now.UnixMilli(),
		next.ID,
		string(next.SecretHash[:]),
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return Record{}, fail(span, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	if len(res) == 0 {
		return Record{}, fail(span, fmt.Errorf("%w: empty rotate result", ErrCorrupt))
	}

	status, ok := res[0].(int64)
	if !ok {
		return Record{}, fail(span, fmt.Errorf("%w: rotate status %T", ErrCorrupt, res[0]))
	}
	if status == rotateStatusNotFound {
		return Record{}, errors.Join(redis.Nil, ErrNotFound)
	}

	prev, err := decodeSnapshot(id, res)
	if err != nil {
		return Record{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("refresh.rotate.status", status))

	switch status {
	case rotateStatusRotated:
		return prev, nil
	case rotateStatusMismatch:
		return prev, ErrSecretMismatch
	case rotateStatusInactive:
		return prev, ErrNotActive
	case rotateStatusExpired:
		return prev, ErrExpired
	default:
		return Record{}, fail(span, fmt.Errorf("%w: unknown rotate status %d", ErrCorrupt, status))
	}
}

// RevokeFamily marks every record of the family Revoked in one script.
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	ctx, span := startSpan(ctx, "redis.refresh.revoke_family", "EVALSHA")
	defer span.End()

	n, err := revokeFamilyLua.Run(ctx, s.redis, []string{s.familyKey(familyID)}, s.recordPrefix()).Int()
	if err != nil {
		return 0, fail(span, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return n, nil
}

// RevokeSubject revokes every family of subject in one script.
func (s *RedisStore) RevokeSubject(ctx context.Context, subject string) (int, error) {
	ctx, span := startSpan(ctx, "redis.refresh.revoke_subject", "EVALSHA")
	defer span.End()

	n, err := revokeSubjectLua.Run(ctx, s.redis, []string{s.subjectKey(subject)}, s.familyPrefix(), s.recordPrefix()).Int()
	if err != nil {
		return 0, fail(span, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return n, nil
}

func encodeFields(rec Record) map[string]interface{} {
	state := rec.State
	if state == "" {
		state = StateActive
	}
	fields := map[string]interface{}{
		"sub":   rec.Subject,
		"fid":   rec.FamilyID,
		"scope": rec.Scope,
		"iat":   rec.IssuedAt.UnixMilli(),
		"exp":   rec.ExpiresAt.UnixMilli(),
		"state": string(state),
		"hash":  string(rec.SecretHash[:]),
	}
	if rec.ReplacedBy != "" {
		fields["next"] = rec.ReplacedBy
	}
	return fields
}

func decodeSnapshot(id string, res []interface{}) (Record, error) {
	if len(res) < 8 {
		return Record{}, fmt.Errorf("%w: short rotate snapshot", ErrCorrupt)
	}
	str := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}
	return buildRecord(id, str(res[1]), str(res[2]), str(res[3]), str(res[4]), str(res[5]), str(res[6]), str(res[7]))
}

func buildRecord(id, state, sub, fid, scope, iat, exp, next string) (Record, error) {
	st := State(state)
	if !st.Valid() {
		return Record{}, fmt.Errorf("%w: state %q", ErrCorrupt, state)
	}
	issued, err := strconv.ParseInt(iat, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: iat", ErrCorrupt)
	}
	expires, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: exp", ErrCorrupt)
	}
	return Record{
		ID:         id,
		Subject:    sub,
		FamilyID:   fid,
		Scope:      scope,
		IssuedAt:   time.UnixMilli(issued).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
		State:      st,
		ReplacedBy: next,
	}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
	)
	return ctx, span
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

var _ Store = (*RedisStore)(nil)
