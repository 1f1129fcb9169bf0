package monitor

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
)

type fakeGateway struct {
	positions []domain.Position
}

func (f fakeGateway) ListPositions(ctx context.Context) ([]domain.Position, error) {
	return f.positions, nil
}

func (f fakeGateway) DailyPrices(ctx context.Context, code string, days int) (highs, lows, closes []float64, err error) {
	return nil, nil, nil, nil
}

func newTestMonitor(t *testing.T, positions []domain.Position) *Monitor {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(&config.Config{}, fakeGateway{positions: positions}, client, zerolog.Nop())
}

// A refresh must not clobber the watermark/scale-out/RSI-sold/profit-floor
// state OnTick accumulated and persisted to Redis since the prior refresh —
// the broker snapshot carries no notion of that bookkeeping at all.
func TestRefresh_PreservesWatermarkAcrossRefreshes(t *testing.T) {
	code := "005930"
	m := newTestMonitor(t, []domain.Position{{Code: code, AvgBuyPrice: 100}})
	ctx := context.Background()

	m.refresh(ctx)
	m.saveWatermark(ctx, code, 150)

	m.refresh(ctx)

	m.mu.RLock()
	tp := m.positions[code]
	m.mu.RUnlock()
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	assert.Equal(t, 150.0, tp.pos.HighWatermark)
}

func TestRefresh_PreservesScaleOutRSISoldAndProfitFloor(t *testing.T) {
	code := "005930"
	m := newTestMonitor(t, []domain.Position{{Code: code, AvgBuyPrice: 100}})
	ctx := context.Background()

	m.refresh(ctx)
	m.saveScaleOut(ctx, code, 2)
	m.saveRSISold(ctx, code)
	m.saveProfitFloor(ctx, code, 10.0)

	m.refresh(ctx)

	m.mu.RLock()
	tp := m.positions[code]
	m.mu.RUnlock()
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	assert.Equal(t, 2, tp.pos.ScaleOutLevel)
	assert.True(t, tp.pos.RSISoldFlag)
	assert.True(t, tp.pos.ProfitFloorActive)
	assert.Equal(t, 10.0, tp.pos.ProfitFloorLevel)
}

func TestRefresh_NewCodeSeedsWatermarkFromAvgBuyPrice(t *testing.T) {
	code := "005930"
	m := newTestMonitor(t, []domain.Position{{Code: code, AvgBuyPrice: 100}})
	ctx := context.Background()

	m.refresh(ctx)

	m.mu.RLock()
	tp := m.positions[code]
	m.mu.RUnlock()
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	assert.Equal(t, 100.0, tp.pos.HighWatermark)
}

func TestOnTick_PersistsWatermarkBumpForNextRefresh(t *testing.T) {
	code := "005930"
	m := newTestMonitor(t, []domain.Position{{Code: code, AvgBuyPrice: 100}})
	ctx := context.Background()
	m.refresh(ctx)

	err := m.OnTick(ctx, domain.Tick{Code: code, Price: 120})
	assert.NoError(t, err)

	// A subsequent refresh (e.g. after a restart losing in-memory state)
	// must pick the persisted watermark back up.
	m.positions = make(map[string]*trackedPosition)
	m.refresh(ctx)

	m.mu.RLock()
	tp := m.positions[code]
	m.mu.RUnlock()
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	assert.Equal(t, 120.0, tp.pos.HighWatermark)
}
