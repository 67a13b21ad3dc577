package sequence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T) (*miniredis.Miniredis, *RedisGenerator) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	gen := NewRedisGenerator(Params{Redis: rdb}).(*RedisGenerator)
	gen.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }
	return mr, gen
}

func TestNextJobCodeFormat(t *testing.T) {
	_, gen := newTestGenerator(t)

	code, err := gen.NextJobCode(context.Background())
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^JOB-250314-001[A-Z2-9]{2}$`), code)

	code, err = gen.NextJobCode(context.Background())
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^JOB-250314-002[A-Z2-9]{2}$`), code)
}

func TestNextJobCodeExpiresCounterAtEndOfDay(t *testing.T) {
	mr, gen := newTestGenerator(t)

	_, err := gen.NextJobCode(context.Background())
	require.NoError(t, err)

	ttl := mr.TTL("seq:JOB:250314")
	require.Equal(t, 14*time.Hour, ttl)
}

func TestNextJobCodeRedisDown(t *testing.T) {
	mr, gen := newTestGenerator(t)
	mr.Close()

	_, err := gen.NextJobCode(context.Background())
	require.Error(t, err)
}
