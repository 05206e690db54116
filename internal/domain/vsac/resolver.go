package vsac

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrCredentialsRequired is returned when value sets must be fetched and no
// credentials were supplied.
var ErrCredentialsRequired = &Error{Code: CodeAuthRequired, Message: "VSAC username and password are required"}

// Resolver fetches value sets in fixed-size batches, consulting the cache
// first. A batch completes entirely before the next one starts.
type Resolver struct {
	fetcher     Fetcher
	cache       Cache
	concurrency int
	logger      zerolog.Logger
}

func NewResolver(fetcher Fetcher, cache Cache, concurrency int, logger zerolog.Logger) *Resolver {
	if concurrency < 1 {
		concurrency = 3
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{
		fetcher:     fetcher,
		cache:       cache,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "vsac_resolver").Logger(),
	}
}

func (r *Resolver) Cache() Cache {
	return r.cache
}

// FetchAll resolves every OID. Per-OID failures become error shells in the
// result; the only error returned is ErrCredentialsRequired.
func (r *Resolver) FetchAll(ctx context.Context, oids []string, version string, creds Credentials) (map[string]*ValueSet, error) {
	results := make(map[string]*ValueSet, len(oids))

	var pending []string
	seen := make(map[string]bool, len(oids))
	for _, oid := range oids {
		if seen[oid] {
			continue
		}
		seen[oid] = true
		if vs, ok := r.cache.Get(ctx, CacheKey(oid, version)); ok {
			results[oid] = vs
			continue
		}
		pending = append(pending, oid)
	}

	r.logger.Info().
		Int("requested", len(seen)).
		Int("cached", len(seen)-len(pending)).
		Int("to_fetch", len(pending)).
		Msg("resolving value sets")

	if len(pending) == 0 {
		return results, nil
	}
	if creds.Empty() {
		return nil, ErrCredentialsRequired
	}

	for start := 0; start < len(pending); start += r.concurrency {
		end := start + r.concurrency
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		fetched := make([]*ValueSet, len(batch))

		var wg sync.WaitGroup
		for i, oid := range batch {
			wg.Add(1)
			go func(i int, oid string) {
				defer wg.Done()
				fetched[i] = r.fetchOne(ctx, oid, version, creds)
			}(i, oid)
		}
		wg.Wait()

		for i, oid := range batch {
			results[oid] = fetched[i]
		}
	}
	return results, nil
}

func (r *Resolver) fetchOne(ctx context.Context, oid, version string, creds Credentials) *ValueSet {
	vs, err := r.fetcher.Fetch(ctx, oid, version, creds)
	if err != nil {
		var verr *Error
		if !errors.As(err, &verr) {
			verr = &Error{Code: CodeAPIError, Message: err.Error()}
		}
		r.logger.Warn().Str("oid", oid).Str("code", verr.Code).Str("error", verr.Message).Msg("value set fetch failed")
		return errorShell(oid, verr)
	}
	r.cache.Set(ctx, CacheKey(oid, version), vs)
	return vs
}
