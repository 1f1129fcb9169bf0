package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kis-trader/internal/domain"
)

func kisPos(code string, qty int64, avg float64) domain.Position {
	return domain.Position{Code: code, Name: "stub", Quantity: qty, AvgBuyPrice: avg, TotalBuyAmount: avg * float64(qty)}
}

func TestComparePositions_AllMatched(t *testing.T) {
	broker := []domain.Position{kisPos("005930", 100, 72000)}
	local := []domain.Position{kisPos("005930", 100, 72000)}
	diff := comparePositions(broker, local)

	assert.Equal(t, []string{"005930"}, diff.Matched)
	assert.Empty(t, diff.OnlyInBroker)
	assert.Empty(t, diff.OnlyInLocal)
	assert.Empty(t, diff.QuantityMismatch)
	assert.Empty(t, diff.PriceMismatch)
}

func TestComparePositions_OnlyInBroker(t *testing.T) {
	broker := []domain.Position{kisPos("005930", 100, 72000), kisPos("000660", 50, 180000)}
	local := []domain.Position{kisPos("005930", 100, 72000)}
	diff := comparePositions(broker, local)

	assert.Len(t, diff.OnlyInBroker, 1)
	assert.Equal(t, "000660", diff.OnlyInBroker[0].Code)
	assert.Equal(t, []string{"005930"}, diff.Matched)
}

func TestComparePositions_OnlyInLocal(t *testing.T) {
	broker := []domain.Position{kisPos("005930", 100, 72000)}
	local := []domain.Position{kisPos("005930", 100, 72000), kisPos("035420", 30, 210000)}
	diff := comparePositions(broker, local)

	assert.Len(t, diff.OnlyInLocal, 1)
	assert.Equal(t, "035420", diff.OnlyInLocal[0].Code)
}

func TestComparePositions_QuantityMismatch(t *testing.T) {
	broker := []domain.Position{kisPos("005930", 150, 72000)}
	local := []domain.Position{kisPos("005930", 100, 72000)}
	diff := comparePositions(broker, local)

	assert.Len(t, diff.QuantityMismatch, 1)
	assert.Equal(t, int64(150), diff.QuantityMismatch[0].BrokerQty)
	assert.Equal(t, int64(100), diff.QuantityMismatch[0].LocalQty)
	assert.Empty(t, diff.Matched)
}

func TestComparePositions_PriceMismatch(t *testing.T) {
	broker := []domain.Position{kisPos("005930", 100, 72500)}
	local := []domain.Position{kisPos("005930", 100, 72000)}
	diff := comparePositions(broker, local)

	assert.Len(t, diff.PriceMismatch, 1)
	assert.Equal(t, 72500.0, diff.PriceMismatch[0].BrokerAvg)
	assert.Equal(t, 72000.0, diff.PriceMismatch[0].LocalAvg)
	assert.Empty(t, diff.Matched)
}

func TestComparePositions_PriceWithinTolerance(t *testing.T) {
	broker := []domain.Position{kisPos("005930", 100, 72000.4)}
	local := []domain.Position{kisPos("005930", 100, 72000)}
	diff := comparePositions(broker, local)

	assert.Equal(t, []string{"005930"}, diff.Matched)
	assert.Empty(t, diff.PriceMismatch)
}

func TestComparePositions_QuantityTakesPriorityOverPrice(t *testing.T) {
	broker := []domain.Position{kisPos("005930", 150, 73000)}
	local := []domain.Position{kisPos("005930", 100, 72000)}
	diff := comparePositions(broker, local)

	assert.Len(t, diff.QuantityMismatch, 1)
	assert.Empty(t, diff.PriceMismatch)
}
