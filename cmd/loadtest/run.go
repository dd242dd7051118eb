package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/httpapi"
)

// loadRun - один прогон: воркеры разбирают номера сценариев из общего счётчика.
type loadRun struct {
	opts     Options
	client   *orderClient
	rec      *recorder
	id       string
	next     atomic.Int64
	deadline time.Time
}

func runLoad(ctx context.Context, opts Options, client *orderClient) (report, error) {
	started := time.Now()
	run := &loadRun{
		opts:   opts,
		client: client,
		rec:    newRecorder(),
		id:     fmt.Sprintf("%d-%d", started.UnixNano(), os.Getpid()),
	}
	if opts.Duration > 0 {
		run.deadline = started.Add(opts.Duration)
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n, ok := run.claim(ctx)
				if !ok {
					return
				}
				run.scenario(ctx, n)
			}
		}()
	}
	wg.Wait()

	return run.rec.report(started, time.Since(started))
}

// claim выдаёт номер следующего сценария, пока не исчерпаны счётчик и время.
func (r *loadRun) claim(ctx context.Context) (int, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	if !r.deadline.IsZero() && !time.Now().Before(r.deadline) {
		return 0, false
	}
	n := int(r.next.Add(1) - 1)
	if (r.deadline.IsZero() || r.opts.TotalSet) && n >= r.opts.Total {
		return 0, false
	}
	return n, true
}

func (r *loadRun) scenario(ctx context.Context, n int) {
	started := time.Now()
	err := r.play(ctx, n)
	r.rec.observe(opScenario, time.Since(started), resultCode(err))
}

func (r *loadRun) play(ctx context.Context, n int) error {
	req := httpapi.CreateOrderRequest{
		Products: []domain.OrderProduct{{
			Product:  domain.Product{Code: r.opts.ProductCode, UnitValue: r.opts.UnitValue},
			Quantity: r.opts.Quantity,
		}},
	}
	key := fmt.Sprintf("lt-%s-%d", r.id, n)

	created, _, err := r.client.createOrder(ctx, r.rec, req, key)
	if err != nil {
		return err
	}
	if created.ID == "" {
		return errors.New("create response has no order id")
	}

	switch r.opts.Mode {
	case modeCreateReplay:
		again, replayed, err := r.client.createOrder(ctx, r.rec, req, key)
		if err != nil {
			return err
		}
		if !replayed || again.ID != created.ID {
			return fmt.Errorf("replay of %s returned order %q (replayed=%v)", key, again.ID, replayed)
		}
	case modeCreateAwait:
		status, err := r.client.awaitOutcome(ctx, r.rec, created.ID, r.opts.AwaitTimeout, r.opts.PollInterval)
		if err != nil {
			return err
		}
		r.rec.outcome(string(status))
	}
	return nil
}
