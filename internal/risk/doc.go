// Package risk implements the risk gate: threshold checks in front of every
// live action, a daily-loss accumulator and a circuit breaker that trips on
// a daily-loss breach and stays open until an operator closes it.
//
// Checks run in a fixed order and the first failure wins:
//
//  1. breaker open                → CircuitOpen (503)
//  2. price × quantity > notional → MaxNotionalExceeded (400)
//  3. |quantity| > symbol cap     → MaxPositionSizeExceeded (400)
//  4. daily loss ≥ limit          → DailyLossLimitReached (429), breaker opens
//
// All mutable state lives in an explicit *State so tests and processes can
// hold independent instances.
package risk
