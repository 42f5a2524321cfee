package token

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/parkergs/tally/internal/domain"
)

// RefreshInterval is how old a token may get before the next caller
// triggers a refresh. Freshbooks access tokens live for 43200s; the
// 10h interval leaves headroom for clock skew between us and upstream.
const RefreshInterval = 36000 * time.Second

// Pair is a fresh access/refresh token pair returned by an exchange.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Exchanger performs the upstream grant_type=refresh_token exchange.
// Implemented by freshbooks.Client.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (Pair, error)
}

// Refresher hands out valid access tokens, refreshing them on a
// time-based policy. The upstream exchange is single-use: swapping the
// same refresh token twice invalidates the first exchange, so at most
// one refresh may be in flight and every concurrent caller must share
// its result. That coordination is a singleflight group, not a
// checked-then-set flag.
type Refresher struct {
	store     *Store
	exchanger Exchanger
	logger    zerolog.Logger

	interval time.Duration
	now      func() time.Time

	group singleflight.Group

	mu  sync.RWMutex
	rec Record
}

// NewRefresher loads the persisted record and returns a refresher
// around it. A load failure is fatal to the caller: the process must
// not start serving with an invalid token store.
func NewRefresher(store *Store, exchanger Exchanger, logger zerolog.Logger) (*Refresher, error) {
	rec, err := store.Load()
	if err != nil {
		return nil, err
	}

	return &Refresher{
		store:     store,
		exchanger: exchanger,
		logger:    logger,
		interval:  RefreshInterval,
		now:       time.Now,
		rec:       rec,
	}, nil
}

// AccessToken returns a valid access token, refreshing first when the
// current one is older than the refresh interval. Callers arriving
// during an in-flight refresh block on that refresh and observe its
// token or its error; a caller never gets a stale or empty token.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	if !r.stale() {
		r.mu.RLock()
		tok := r.rec.AccessToken
		r.mu.RUnlock()
		return tok, nil
	}

	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		// A flight that settled while we were waiting to start may
		// have refreshed already; don't burn another exchange.
		if !r.stale() {
			r.mu.RLock()
			defer r.mu.RUnlock()
			return r.rec.AccessToken, nil
		}

		r.mu.RLock()
		refreshToken := r.rec.RefreshToken
		r.mu.RUnlock()

		pair, err := r.exchanger.ExchangeRefreshToken(ctx, refreshToken)
		if err != nil {
			return nil, domain.WrapError(err, domain.EUNAUTHORIZED, "token.refresh", "upstream token exchange failed")
		}

		rec := Record{
			LastUpdatedAt: r.now().UnixMilli(),
			RefreshToken:  pair.RefreshToken,
			AccessToken:   pair.AccessToken,
		}
		r.mu.Lock()
		r.rec = rec
		r.mu.Unlock()

		// Persist off the caller's path. A failed save is fatal: the
		// old refresh token is already invalidated upstream and the
		// new one would be lost on restart.
		go r.persist(rec)

		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Refresher) stale() bool {
	r.mu.RLock()
	last := r.rec.LastUpdatedAt
	r.mu.RUnlock()
	return r.now().UnixMilli()-last >= r.interval.Milliseconds()
}

func (r *Refresher) persist(rec Record) {
	if err := r.store.Save(rec); err != nil {
		r.logger.Fatal().Err(err).Str("path", r.store.Path()).
			Msg("failed to persist refreshed token; cannot continue without it")
		return
	}
	r.logger.Debug().Str("path", r.store.Path()).Msg("token file saved")
}
