// Package ratelimit paces outbound provider calls. A process-local token
// bucket spaces calls from one send batch; an optional Redis counter caps the
// combined per-second rate of every process sharing a provider account.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Waiter blocks until the caller may make one more call.
type Waiter interface {
	Wait(ctx context.Context) error
}

// perSecondScript admits one call if the bucket for the current second has
// room. Returns {allowed, count}.
var perSecondScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current + 1 > limit then
	return {0, current}
end
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
end
return {1, n}
`)

// Global is a fixed-window per-second cap stored in Redis.
type Global struct {
	client    *redis.Client
	name      string
	perSecond int
	now       func() time.Time
}

// NewGlobal caps the named resource at perSecond calls across all processes.
func NewGlobal(client *redis.Client, name string, perSecond int) *Global {
	return &Global{client: client, name: name, perSecond: perSecond, now: time.Now}
}

// Allow takes a slot in the current one-second window if one is free. When
// denied it reports how long until the next window opens.
func (g *Global) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := g.now()
	key := fmt.Sprintf("ratelimit:%s:sec:%d", g.name, now.Unix())
	res, err := perSecondScript.Run(ctx, g.client, []string{key}, g.perSecond, 2).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", g.name, err)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	next := now.Truncate(time.Second).Add(time.Second)
	return false, next.Sub(now), nil
}

// Wait implements Waiter.
func (g *Global) Wait(ctx context.Context) error {
	for {
		ok, wait, err := g.Allow(ctx)
		if err != nil || ok {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Pacer combines the local interval with an optional Global cap.
type Pacer struct {
	local  *rate.Limiter
	global *Global
}

// NewPacer allows one call per interval locally. A zero interval disables
// local pacing; global may be nil.
func NewPacer(interval time.Duration, global *Global) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{local: rate.NewLimiter(limit, 1), global: global}
}

// Wait implements Waiter.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.local.Wait(ctx); err != nil {
		return err
	}
	if p.global != nil {
		return p.global.Wait(ctx)
	}
	return nil
}
