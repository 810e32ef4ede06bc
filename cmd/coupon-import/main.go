// Command coupon-import bulk-creates coupons from gzip-compressed NDJSON
// files, one coupon definition per line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/storage/mongo"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineBytes  = 64 << 10
)

// Creator is the part of coupon.Ledger the importer drives.
type Creator interface {
	Create(ctx context.Context, def coupon.Definition, actorID string) (*coupon.Coupon, error)
}

// stats counts import outcomes. All fields are updated atomically.
type stats struct {
	created   atomic.Int64
	skipped   atomic.Int64
	duplicate atomic.Int64
	invalid   atomic.Int64
}

func main() {
	var (
		store       string
		databaseURL string
		mongoURI    string
		mongoDB     string
		actor       string
		workers     int
	)

	flag.StringVar(&store, "store", "mongo", "storage backend: mongo or postgres")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&mongoDB, "mongo-database", "storefront", "MongoDB database name")
	flag.StringVar(&actor, "actor", "coupon-import", "recorded as the creator of imported coupons")
	flag.IntVar(&workers, "workers", 8, "concurrent coupon writers")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("usage: coupon-import [flags] coupons1.ndjson.gz [coupons2.ndjson.gz ...]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	repo, closeRepo, err := openRepository(ctx, store, databaseURL, mongoURI, mongoDB)
	if err != nil {
		slog.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeRepo()

	ledger, err := coupon.NewLedger(repo)
	if err != nil {
		slog.Error("create ledger failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var st stats
	if err := run(ctx, ledger, files, actor, workers, &st); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully",
		slog.Int64("created", st.created.Load()),
		slog.Int64("skipped", st.skipped.Load()),
		slog.Int64("duplicate", st.duplicate.Load()),
		slog.Int64("invalid", st.invalid.Load()),
	)
}

func openRepository(ctx context.Context, store, databaseURL, mongoURI, mongoDB string) (coupon.Repository, func(), error) {
	switch store {
	case "postgres":
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		if databaseURL == "" {
			return nil, nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to database")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewCouponRepository(pool), pool.Close, nil
	case "mongo":
		if mongoURI == "" {
			mongoURI = os.Getenv("MONGO_URI")
		}
		if mongoURI == "" {
			return nil, nil, errors.New("mongo URI is required: set --mongo-uri or MONGO_URI")
		}
		client, err := mongo.Connect(ctx, mongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		db := client.Database(mongoDB)
		if err := mongo.EnsureIndexes(ctx, db, zap.NewNop()); err != nil {
			closeFn()
			return nil, nil, errors.Wrap(err, "ensure indexes")
		}
		return mongo.NewCouponRepository(db), closeFn, nil
	default:
		return nil, nil, errors.Errorf("unknown store %q", store)
	}
}

// run imports files in two passes. Pass 1 feeds every code through the
// bloom filter to find codes that may repeat. Pass 2 streams every file
// concurrently into a shared queue drained by workers; a repeated code is
// written once and its later copies are skipped, and a code already stored
// is counted as a duplicate.
func run(ctx context.Context, c Creator, files []string, actor string, workers int, st *stats) error {
	if workers < 1 {
		workers = 1
	}
	seen := newDedupe(bloomCapacity, bloomFPR)
	slog.Info("pass 1: scanning codes", slog.Int("files", len(files)))
	if err := scanCodes(ctx, files, seen); err != nil {
		return errors.Wrap(err, "scan codes")
	}
	slog.Info("pass 2: importing coupons", slog.Int("candidates", seen.candidateCount()))
	return importFiles(ctx, c, files, seen, actor, workers, st)
}

// scanCodes reads all files concurrently and records their codes in seen.
func scanCodes(ctx context.Context, files []string, seen *dedupe) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return readFile(ctx, path, func(def coupon.Definition) error {
				seen.observe(def.Code)
				return nil
			}, nil)
		})
	}
	return g.Wait()
}

func importFiles(ctx context.Context, c Creator, files []string, seen *dedupe, actor string, workers int, st *stats) error {
	queue := make(chan coupon.Definition, workers*4)

	g, ctx := errgroup.WithContext(ctx)

	var readers sync.WaitGroup
	for _, path := range files {
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			return readFile(ctx, path, func(def coupon.Definition) error {
				if !seen.admit(def.Code) {
					st.skipped.Add(1)
					return nil
				}
				select {
				case queue <- def:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}, st)
		})
	}
	go func() {
		readers.Wait()
		close(queue)
	}()

	for range workers {
		g.Go(func() error {
			for def := range queue {
				if err := create(ctx, c, def, actor, st); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func create(ctx context.Context, c Creator, def coupon.Definition, actor string, st *stats) error {
	_, err := c.Create(ctx, def, actor)
	switch {
	case err == nil:
		if n := st.created.Add(1); n%progressEvery == 0 {
			slog.Info("import progress", slog.Int64("created", n))
		}
		return nil
	case errors.Is(err, coupon.ErrDuplicateCode):
		st.duplicate.Add(1)
		return nil
	case fault.KindOf(err) == fault.KindValidation:
		st.invalid.Add(1)
		slog.Warn("invalid coupon", slog.String("code", def.Code), slog.String("error", err.Error()))
		return nil
	default:
		return errors.Wrapf(err, "create coupon %s", def.Code)
	}
}

// readFile opens a gzip-compressed NDJSON file and calls fn for each
// decoded definition. Blank lines are ignored; a malformed line is skipped
// and, when st is non-nil, counted as invalid.
func readFile(ctx context.Context, path string, fn func(coupon.Definition) error, st *stats) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	if err := decodeLines(ctx, gz, fn, st); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if st != nil {
		slog.Info("file complete", slog.String("path", path))
	}
	return nil
}

func decodeLines(ctx context.Context, r io.Reader, fn func(coupon.Definition) error, st *stats) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var def coupon.Definition
		if err := json.Unmarshal([]byte(text), &def); err != nil {
			if st != nil {
				st.invalid.Add(1)
				slog.Warn("skip malformed line", slog.Int("line", line), slog.String("error", err.Error()))
			}
			continue
		}
		def.Code = coupon.NormalizeCode(def.Code)
		if err := fn(def); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dedupe finds repeated codes without holding every code in memory. Only
// codes the bloom filter reports as already seen during observe become
// candidates; those are tracked exactly so each is admitted once. A false
// positive is a unique code that is admitted on its only appearance.
type dedupe struct {
	mu         sync.Mutex
	filter     *bloom.BloomFilter
	candidates map[string]bool // code -> admitted
}

func newDedupe(capacity uint, fpr float64) *dedupe {
	return &dedupe{
		filter:     bloom.NewWithEstimates(capacity, fpr),
		candidates: make(map[string]bool),
	}
}

// observe records code during the scan pass.
func (d *dedupe) observe(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.filter.TestOrAddString(code) {
		if _, ok := d.candidates[code]; !ok {
			d.candidates[code] = false
		}
	}
}

// admit reports whether code should be written. Codes the filter never
// flagged always are; a candidate only the first time.
func (d *dedupe) admit(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	admitted, ok := d.candidates[code]
	if !ok {
		return true
	}
	if admitted {
		return false
	}
	d.candidates[code] = true
	return true
}

func (d *dedupe) candidateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.candidates)
}
