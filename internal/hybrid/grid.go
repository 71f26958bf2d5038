package hybrid

import (
	"fmt"
	"strconv"

	"cohort-trading-bot/internal/binance"
)

// MinNotionalPerLevel is the venue's minimum order notional.
const MinNotionalPerLevel = 5.0

// openGrid anchors a new grid at the current price: NumGrids BUY levels
// spaced below and NumGrids SELL levels spaced above, each carrying an
// equal share of the symbol's allocation.
func (o *Orchestrator) openGrid(symbol string, allocationUSD float64) error {
	price, err := o.client.GetCurrentPrice(symbol)
	if err != nil {
		return fmt.Errorf("anchor price for %s: %w", symbol, err)
	}

	step := o.cfg.GridRangePercent / 100 / float64(o.cfg.NumGrids)
	perLevel := allocationUSD / float64(o.cfg.NumGrids)
	if perLevel < MinNotionalPerLevel {
		return fmt.Errorf("per-level notional %.2f below venue minimum %.2f", perLevel, MinNotionalPerLevel)
	}

	grid := &GridState{
		Symbol:       symbol,
		ActiveOrders: make(map[string]GridOrder),
		LowerBound:   price * (1 - o.cfg.GridRangePercent/100),
		UpperBound:   price * (1 + o.cfg.GridRangePercent/100),
	}

	for i := 1; i <= o.cfg.NumGrids; i++ {
		buyPrice := price * (1 - step*float64(i))
		if err := o.placeGridOrder(grid, symbol, binance.SideBuy, perLevel/buyPrice, buyPrice); err != nil {
			o.log.Warn().Err(err).Str("symbol", symbol).Msg("buy level placement failed")
		}

		sellPrice := price * (1 + step*float64(i))
		if err := o.placeGridOrder(grid, symbol, binance.SideSell, perLevel/sellPrice, sellPrice); err != nil {
			o.log.Warn().Err(err).Str("symbol", symbol).Msg("sell level placement failed")
		}
	}

	o.grids[symbol] = grid
	o.log.Info().Str("symbol", symbol).Float64("anchor", price).
		Int("orders", len(grid.ActiveOrders)).Msg("grid opened")
	return SaveGridState(o.dataDir, o.cohortName, grid)
}

func (o *Orchestrator) placeGridOrder(grid *GridState, symbol, side string, quantity, price float64) error {
	orderID, err := o.client.PlaceOrder(symbol, side, quantity, price)
	if err != nil {
		return err
	}
	grid.ActiveOrders[strconv.FormatInt(orderID, 10)] = GridOrder{
		Type:      side,
		Price:     price,
		Quantity:  quantity,
		CreatedAt: o.now(),
	}
	return nil
}

// checkGridFills diffs tracked orders against the venue's open orders.
// A tracked order no longer resting is treated as filled and re-armed
// with its mirror follow-up; a failed follow-up annotates the source
// order for the monitoring layer.
func (o *Orchestrator) checkGridFills(symbol string) error {
	grid, ok := o.grids[symbol]
	if !ok || len(grid.ActiveOrders) == 0 {
		return nil
	}

	open, err := o.client.GetOpenOrders(symbol)
	if err != nil {
		return fmt.Errorf("open orders for %s: %w", symbol, err)
	}

	resting := make(map[string]bool, len(open))
	for _, ord := range open {
		resting[strconv.FormatInt(ord.OrderID, 10)] = true
	}

	// Snapshot the tracked IDs: follow-ups placed below are added to
	// ActiveOrders and must not be checked in this pass.
	ids := make([]string, 0, len(grid.ActiveOrders))
	for id := range grid.ActiveOrders {
		ids = append(ids, id)
	}

	changed := false
	for _, id := range ids {
		order := grid.ActiveOrders[id]
		if resting[id] {
			continue
		}

		// Order left the book: treat as filled.
		changed = true
		o.log.Info().Str("symbol", symbol).Str("order", id).Str("side", order.Type).
			Float64("price", order.Price).Msg("grid fill detected")

		grid.LastFill = &FillRecord{
			OrderID:  id,
			Type:     order.Type,
			Price:    order.Price,
			Quantity: order.Quantity,
			FilledAt: o.now(),
		}

		if err := o.placeFollowup(grid, symbol, id, order); err != nil {
			o.log.Error().Err(err).Str("symbol", symbol).Str("order", id).
				Msg("follow-up order failed")
			// Keep the source order annotated so grid_health_summary
			// surfaces it; it no longer rests at the venue.
			order.FailedFollowup = true
			grid.ActiveOrders[id] = order
			continue
		}
		delete(grid.ActiveOrders, id)
	}

	if changed {
		return SaveGridState(o.dataDir, o.cohortName, grid)
	}
	return nil
}

// placeFollowup re-arms the opposite side one grid step away from the
// filled level.
func (o *Orchestrator) placeFollowup(grid *GridState, symbol, filledID string, filled GridOrder) error {
	step := o.cfg.GridRangePercent / 100 / float64(o.cfg.NumGrids)

	side := binance.SideSell
	price := filled.Price * (1 + step)
	if filled.Type == binance.SideSell {
		side = binance.SideBuy
		price = filled.Price * (1 - step)
	}

	orderID, err := o.client.PlaceOrder(symbol, side, filled.Quantity, price)
	if err != nil {
		return err
	}

	grid.ActiveOrders[strconv.FormatInt(orderID, 10)] = GridOrder{
		Type:      side,
		Price:     price,
		Quantity:  filled.Quantity,
		CreatedAt: o.now(),
	}
	return nil
}

// closeGrid cancels every resting order and removes the grid.
func (o *Orchestrator) closeGrid(symbol string) {
	grid, ok := o.grids[symbol]
	if !ok {
		return
	}

	for id := range grid.ActiveOrders {
		orderID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if err := o.client.CancelOrder(symbol, orderID); err != nil {
			o.log.Warn().Err(err).Str("symbol", symbol).Str("order", id).Msg("cancel failed")
		}
	}

	delete(o.grids, symbol)
	if err := RemoveGridState(o.dataDir, symbol, o.cohortName); err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol).Msg("grid state removal failed")
	}
	o.log.Info().Str("symbol", symbol).Msg("grid closed")
}

// gridFullyClosed reports whether no grid orders rest for the symbol.
func (o *Orchestrator) gridFullyClosed(symbol string) bool {
	grid, ok := o.grids[symbol]
	return !ok || len(grid.ActiveOrders) == 0
}
