package bybit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

func TestToOrder_StringAndNumberFields(t *testing.T) {
	var rs []orderResult
	require.NoError(t, json.Unmarshal([]byte(`[
		{"order_id": "d0aa620e", "side": "Buy", "price": "55600", "qty": "2", "order_status": "New", "order_link_id": ""},
		{"order_id": "5b7eebcf", "side": "Sell", "price": 56300.5, "qty": 1, "order_status": "Cancelled", "order_link_id": "link-1"}
	]`), &rs))

	orders, err := toOrders(rs)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, domain.Order{ID: "d0aa620e", Side: domain.SideLong, Price: 55600, Quantity: 2, Status: domain.StatusNew}, orders[0])
	assert.Equal(t, domain.Order{ID: "5b7eebcf", LinkID: "link-1", Side: domain.SideShort, Price: 56300.5, Quantity: 1, Status: domain.StatusCancelled}, orders[1])
}

func TestToOrder_UnknownSide(t *testing.T) {
	_, err := toOrder(orderResult{OrderID: "x", Side: "None"})
	assert.Error(t, err)
}

func TestToPosition_ZeroSizeIsNotInCycle(t *testing.T) {
	_, err := toPosition(positionResult{Size: 0, EntryPrice: "0"}, envelope{})
	assert.ErrorIs(t, err, domain.ErrNotInCycle)
}

func TestToPosition_BadEntryPrice(t *testing.T) {
	_, err := toPosition(positionResult{Size: 1, EntryPrice: "n/a"}, envelope{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotInCycle)
}

func TestFromSide(t *testing.T) {
	assert.Equal(t, "Buy", fromSide(domain.SideLong))
	assert.Equal(t, "Sell", fromSide(domain.SideShort))
}
