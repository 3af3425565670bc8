// Command stagepipe-demo wires up SPEC_FULL.md's Scenario 1: a producer A
// counting from zero, a producer-consumer B doubling each value, and a
// consumer C collecting the results, with C subscribed to B at
// max=10/min=5 and B subscribed to A at max=10/min=5.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/arrowstream/stagepipe/stage"
	"github.com/arrowstream/stagepipe/stagelog"
	"github.com/arrowstream/stagepipe/stagemetrics"
	"github.com/arrowstream/stagepipe/stagetest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := stagelog.NewSlog(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	metrics := stagemetrics.NewPrometheus(prometheus.DefaultRegisterer)

	counter := stagetest.NewCounter()
	producerA := stage.NewProducer("counter-a", counter,
		stage.WithLogger(log), stage.WithMetrics(metrics))

	doubler := stagetest.NewDoubler()
	pcB := stage.NewProducerConsumer("doubler-b", doubler,
		stage.WithPCLogger(log), stage.WithPCMetrics(metrics),
		stage.WithPCSubscribeTo(producerA.Address(),
			stage.WithMaxDemand(10), stage.WithMinDemand(5)))

	collector := stagetest.NewCollector(1)
	consumerC := stage.NewConsumer("collector-c", collector,
		stage.WithConsumerLogger(log), stage.WithConsumerMetrics(metrics),
		stage.WithSubscribeTo(pcB.Address(),
			stage.WithMaxDemand(10), stage.WithMinDemand(5)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return producerA.Run(ctx) })
	g.Go(func() error { return pcB.Run(ctx) })
	g.Go(func() error { return consumerC.Run(ctx) })

	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("collected so far: %v\n", collector.Snapshot())
			}
		}
	}()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "stagepipe-demo: %v\n", err)
		os.Exit(1)
	}
}
