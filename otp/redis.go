package otp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	recordVersionV1 = 1
	maxWatchRetries = 4
)

// RedisStore keeps one binary-encoded record per account at <prefix>otp:<id>.
// Keys outlive the passcode by retention so expiry can be reported as such.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(accountID string) string {
	return s.prefix + "otp:" + accountID
}

// Save overwrites the account's passcode.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	ctx, span := startSpan(ctx, "redis.otp.save", "SET")
	defer span.End()

	ttl := rec.ExpiresAt.Sub(rec.IssuedAt) + s.retention
	if ttl <= 0 {
		return errors.New("otp: non-positive lifetime")
	}

	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(rec.AccountID), encoded, ttl).Err(); err != nil {
		return fail(span, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return nil
}

// Consume runs the check-and-delete under WATCH, retrying when another caller
// touches the key in between.
func (s *RedisStore) Consume(ctx context.Context, accountID string, presented [32]byte, now time.Time, maxAttempts int) (Record, error) {
	ctx, span := startSpan(ctx, "redis.otp.consume", "WATCH")
	defer span.End()

	key := s.key(accountID)

	for i := 0; i < maxWatchRetries; i++ {
		var matched Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}

			if rec.Expired(now) {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrExpired
			}

			if subtle.ConstantTimeCompare(rec.CodeHash[:], presented[:]) != 1 {
				rec.Attempts++
				if maxAttempts > 0 && int(rec.Attempts) >= maxAttempts {
					if err := deleteInTx(ctx, tx, key); err != nil {
						return err
					}
					return ErrAttemptsExceeded
				}
				updated, err := encodeRecord(rec)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, redis.KeepTTL)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrMismatch
			}

			if err := deleteInTx(ctx, tx, key); err != nil {
				return err
			}
			matched = rec
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		span.SetAttributes(attribute.Int("otp.watch.attempt", i+1))
		switch {
		case err == nil:
			return matched, nil
		case errors.Is(err, redis.Nil):
			return Record{}, ErrNotFound
		case errors.Is(err, ErrExpired), errors.Is(err, ErrMismatch), errors.Is(err, ErrAttemptsExceeded):
			return Record{}, err
		default:
			return Record{}, fail(span, fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
	}

	return Record{}, fail(span, fmt.Errorf("%w: too much contention on %q", ErrUnavailable, accountID))
}

// Delete removes the account's passcode.
func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	ctx, span := startSpan(ctx, "redis.otp.delete", "DEL")
	defer span.End()

	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fail(span, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return nil
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeRecord(rec Record) ([]byte, error) {
	if len(rec.AccountID) > 65535 {
		return nil, errors.New("otp: account id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, rec.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, rec.IssuedAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(rec.AccountID)))
	buf.WriteString(rec.AccountID)
	buf.Write(rec.CodeHash[:])
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (Record, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != recordVersionV1 {
		return Record{}, errors.New("otp: invalid record version")
	}

	var (
		rec       Record
		issuedMs  int64
		expiresMs int64
		idLen     uint16
	)
	if err := binary.Read(r, binary.BigEndian, &rec.Attempts); err != nil {
		return Record{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &issuedMs); err != nil {
		return Record{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &expiresMs); err != nil {
		return Record{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
		return Record{}, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return Record{}, err
	}
	if _, err := io.ReadFull(r, rec.CodeHash[:]); err != nil {
		return Record{}, err
	}

	rec.AccountID = string(id)
	rec.IssuedAt = time.UnixMilli(issuedMs).UTC()
	rec.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	return rec, nil
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
