// Command stock-universe gathers the daily US stock universe: listings,
// quotes, fundamentals, end-of-day prices and market capitalization.
//
// Usage:
//
//	stock-universe universe --date 2024-06-14
//	stock-universe prices --market-cap
//	stock-universe market-cap --start 2021-01-04 --end 2021-03-31
//	stock-universe shares AAPL --date 2021-02-16
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}
