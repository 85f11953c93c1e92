package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diewo77/go-prefacturation/internal/db"
	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/pricing"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store      *store.Store
	clock      *testClock
	blocks     *BlockRegistry
	pref       *PrefacturationService
	compliance *ComplianceService
	disputes   *DisputeService
	exports    *ExportService
}

var day = 24 * time.Hour

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(conn))

	st := store.New(conn)
	locker := lock.NewMemoryLocker()
	clock := &testClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
	opts := append([]Option{WithClock(clock.Now)}, extra...)

	blocks := NewBlockRegistry(st, locker, opts...)
	return &fixture{
		store:      st,
		clock:      clock,
		blocks:     blocks,
		pref:       NewPrefacturationService(st, locker, blocks, opts...),
		compliance: NewComplianceService(st, locker, opts...),
		disputes:   NewDisputeService(st, locker, opts...),
		exports:    NewExportService(st, locker, opts...),
	}
}

// generate stores a draft with two lines of 100 base each (TTC 132 per line).
func (f *fixture) generate(t *testing.T, discrepancies ...models.Discrepancy) *models.Prefacturation {
	t.Helper()
	p, err := f.pref.Generate(context.Background(), GenerateInput{
		Carrier: models.Party{ID: "TR-1", Name: "Transports Martin", TaxID: "12345678900011"},
		Client:  models.Party{ID: "CLI-1", Name: "Industries Dupont"},
		Period: models.Period{
			Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		Lines: []pricing.LineInput{
			{OrderID: "ORD-1", OrderReference: "CMD-1", Weight: 200, PricePerKg: 0.5, Discrepancies: discrepancies},
			{OrderID: "ORD-2", OrderReference: "CMD-2", Weight: 400, PricePerKg: 0.25},
		},
		Actor: "ops",
	})
	require.NoError(t, err)
	return p
}

// validated generates a draft and moves it to validated_industrial.
func (f *fixture) validated(t *testing.T, discrepancies ...models.Discrepancy) *models.Prefacturation {
	t.Helper()
	ctx := context.Background()
	p := f.generate(t, discrepancies...)
	res, err := f.pref.SendToIndustrial(ctx, []uint{p.ID}, "ops")
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	p, err = f.pref.Validate(ctx, p.ID, ValidateInput{Actor: "industrial"})
	require.NoError(t, err)
	return p
}

func (f *fixture) reload(t *testing.T, id uint) *models.Prefacturation {
	t.Helper()
	p, err := f.store.GetPrefacturation(context.Background(), id)
	require.NoError(t, err)
	return p
}

func ptr[T any](v T) *T { return &v }
