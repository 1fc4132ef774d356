package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/careermate/authcore"
	"github.com/careermate/authcore/account"
	"github.com/careermate/authcore/logging"
	"github.com/careermate/authcore/metrics"
	promexport "github.com/careermate/authcore/metrics/export/prometheus"
	"github.com/careermate/authcore/password"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const loadPassword = "load-test-password"

// session is the latest pair of one seeded account. Refreshes of the same
// session are serialized so the load phase never trips reuse detection.
type session struct {
	mu   sync.Mutex
	pair authcore.TokenPair
}

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of accounts to seed")
		workers     = flag.Int("workers", 64, "number of concurrent workers")
		duration    = flag.Duration("duration", 5*time.Second, "duration of each phase")
		raceCallers = flag.Int("race-callers", 16, "concurrent refreshes of the same token per race round")
		raceRounds  = flag.Int("race-rounds", 50, "number of race rounds")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	)
	flag.Parse()

	if *accounts <= 0 || *workers <= 0 || *duration <= 0 || *raceCallers < 2 || *raceRounds <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, workers, duration and race-rounds must be > 0; race-callers must be >= 2")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	if err := redisotel.InstrumentTracing(client); err != nil {
		fmt.Fprintf(os.Stderr, "instrument redis: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadTestConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	store, err := seedAccounts(cfg, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(store).
		WithNotifier(account.NewLogNotifier(logging.Discard())).
		WithLogger(logging.Discard()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if *metricsAddr != "" {
		handler, err := promexport.Handler(engine)
		if err != nil {
			fmt.Fprintf(os.Stderr, "metrics handler: %v\n", err)
			os.Exit(1)
		}
		srv := &http.Server{Addr: *metricsAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
		fmt.Printf("serving metrics on %s/metrics\n", *metricsAddr)
	}

	sessions := make([]session, *accounts)
	loginStats := runPhase(ctx, *workers, *duration, func(ctx context.Context, r *mrand.Rand) error {
		i := r.IntN(len(sessions))
		pair, err := engine.Authenticate(ctx, emailFor(i), loadPassword)
		if err != nil {
			return err
		}
		s := &sessions[i]
		s.mu.Lock()
		s.pair = pair
		s.mu.Unlock()
		return nil
	})

	verifyStats := runPhase(ctx, *workers, *duration, func(ctx context.Context, r *mrand.Rand) error {
		s := &sessions[r.IntN(len(sessions))]
		s.mu.Lock()
		token := s.pair.AccessToken
		s.mu.Unlock()
		if token == "" {
			return nil
		}
		_, err := engine.VerifyAccessToken(ctx, token)
		return err
	})

	refreshStats := runPhase(ctx, *workers, *duration, func(ctx context.Context, r *mrand.Rand) error {
		s := &sessions[r.IntN(len(sessions))]
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pair.RefreshToken == "" {
			return nil
		}
		pair, err := engine.Refresh(ctx, s.pair.RefreshToken)
		if err != nil {
			return err
		}
		s.pair = pair
		return nil
	})

	race, err := runRace(ctx, engine, *raceRounds, *raceCallers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "race: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	fmt.Printf("race: rounds=%d callers=%d single-winner=%d multi-winner=%d no-winner=%d\n",
		*raceRounds, *raceCallers, race.single, race.multi, race.none)
	printSnapshot(engine.MetricsSnapshot())

	if race.multi > 0 {
		fmt.Fprintln(os.Stderr, "FAIL: a refresh token was rotated more than once")
		os.Exit(1)
	}
}

func loadTestConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return cfg, err
	}
	cfg.JWT.Secret = logging.SecretString(hex.EncodeToString(secret))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.MinResponse = 0
	cfg.Audit.Enabled = false
	return cfg, cfg.Validate()
}

func seedAccounts(cfg authcore.Config, n int) (*account.MemoryStore, error) {
	pw := password.DefaultConfig()
	pw.Memory = cfg.Password.Memory
	pw.Parallelism = cfg.Password.Parallelism
	hasher, err := password.NewHasher(pw)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	store := account.NewMemoryStore()
	for i := 0; i < n; i++ {
		store.Put(account.Account{
			ID:           fmt.Sprintf("user-%d", i),
			Email:        emailFor(i),
			PasswordHash: hash,
			Status:       account.StatusActive,
			Roles:        []string{"CANDIDATE"},
		})
	}
	return store, nil
}

func emailFor(i int) string {
	return fmt.Sprintf("user-%d@load.test", i)
}

type raceResult struct {
	single, multi, none int
}

// runRace logs in once per round and refreshes the new token from many
// goroutines at the same time. Exactly one of them may win.
func runRace(ctx context.Context, engine *authcore.Engine, rounds, callers int) (raceResult, error) {
	var res raceResult
	for round := 0; round < rounds; round++ {
		pair, err := engine.Authenticate(ctx, emailFor(0), loadPassword)
		if err != nil {
			return res, err
		}

		var wins atomic.Int32
		start := make(chan struct{})
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < callers; i++ {
			g.Go(func() error {
				<-start
				_, err := engine.Refresh(gctx, pair.RefreshToken)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, authcore.ErrTokenReuseDetected):
				default:
					return err
				}
				return nil
			})
		}
		close(start)
		if err := g.Wait(); err != nil {
			return res, err
		}

		switch wins.Load() {
		case 1:
			res.single++
		case 0:
			res.none++
		default:
			res.multi++
		}
	}
	return res, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

// runPhase calls op from workers goroutines until d has passed.
func runPhase(ctx context.Context, workers int, d time.Duration, op func(context.Context, *mrand.Rand) error) phaseStats {
	var (
		failures  atomic.Int64
		latencies []time.Duration
		mu        sync.Mutex
	)

	deadline := time.Now().Add(d)
	start := time.Now()
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			r := mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)*7919))
			local := make([]time.Duration, 0, 1024)
			for time.Now().Before(deadline) {
				t0 := time.Now()
				err := op(ctx, r)
				local = append(local, time.Since(t0))
				if err != nil {
					failures.Add(1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func printSnapshot(snap metrics.Snapshot) {
	fmt.Println("---- metrics ----")
	for _, def := range metrics.CounterDefs {
		if v := snap.Counters[def.ID]; v > 0 {
			fmt.Printf("%s %d\n", def.Name, v)
		}
	}
	for _, def := range metrics.HistogramDefs {
		buckets := metrics.Cumulative(snap.Histograms[def.ID])
		fmt.Printf("%s count=%d sum=%s\n", def.Name, buckets[metrics.BucketCount-1], snap.Sums[def.ID].Round(time.Millisecond))
	}
}
