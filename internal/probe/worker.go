package probe

import (
	"context"
	"net/netip"
	"sync"
)

// ProcessTargets probes addrs concurrently using a worker pool with context
// support. Every address yields exactly one Result; addresses still queued
// when ctx is cancelled yield the context error.
func (p *Prober) ProcessTargets(ctx context.Context, addrs []netip.Addr, concurrency int) <-chan Result {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make(chan Result, len(addrs))
	addrChan := make(chan netip.Addr, len(addrs))

	// Create worker pool
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go p.worker(ctx, addrChan, results, &wg)
	}

	for _, addr := range addrs {
		addrChan <- addr
	}
	close(addrChan)

	// Close results channel when all workers are done
	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// worker processes addresses from the channel
func (p *Prober) worker(ctx context.Context, addrs <-chan netip.Addr, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for addr := range addrs {
		if err := ctx.Err(); err != nil {
			results <- Result{Addr: addr, Outcome: Outcome{Addr: addr, Err: err}}
			continue
		}
		results <- p.Probe(ctx, addr)
	}
}
