package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/client"
	"github.com/atlassian/hasocket/pkg/cluster"
	"github.com/atlassian/hasocket/pkg/codec"
	"github.com/atlassian/hasocket/pkg/node"
	"github.com/atlassian/hasocket/pkg/util"
)

// counters are updated by every worker.
type counters struct {
	ok       uint64
	notFound uint64
	failed   uint64
	timeouts uint64
}

func (c *counters) record(result *hasocket.Result, err error) {
	switch {
	case errors.Is(err, hasocket.ErrRequestTimeout):
		atomic.AddUint64(&c.timeouts, 1)
	case err != nil:
		atomic.AddUint64(&c.failed, 1)
	case result == nil || result.Ok:
		atomic.AddUint64(&c.ok, 1)
	case len(result.Errors) > 0 && result.Errors[0].Type == hasocket.ErrorTypeNotFound:
		atomic.AddUint64(&c.notFound, 1)
	default:
		atomic.AddUint64(&c.failed, 1)
	}
}

func main() {
	opts := parseArgs(os.Args[1:])

	logger := logrus.StandardLogger()
	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	settings := hasocket.DefaultClientSettings()
	settings.Servers = opts.Servers
	settings.Binary = !opts.Text
	settings.Language = opts.Language
	settings.DataRequestTimeout = opts.RequestTimeout

	manager, err := cluster.NewManager(logger, settings, cluster.Dialers{
		Data:    websocket.DefaultDialer,
		Control: websocket.DefaultDialer,
	}, nil)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer manager.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager.Start(ctx)
	c := client.New(logger, manager, codec.New(settings.Binary), settings.Language)

	limiter := rate.NewLimiter(rate.Limit(opts.Rate), int(opts.Workers))
	sem := util.NewSemaphore(opts.MaxInFlight)
	stats := &counters{}

	generators := make([]*requestGenerator, 0, opts.Workers)
	var wg wait.Group
	for i := uint(0); i < opts.Workers; i++ {
		generator := &requestGenerator{
			rnd:            rand.New(rand.NewSource(rand.Int63())),
			remaining:      opts.Requests / uint64(opts.Workers),
			writeRatio:     opts.Mix.WriteRatio,
			notifyRatio:    opts.Mix.NotifyRatio,
			keyFormat:      opts.Mix.KeyPrefix + "%d",
			keyCardinality: opts.Mix.KeyCardinality,
			valueSize:      opts.Mix.ValueSize,
		}
		generators = append(generators, generator)
		wg.StartWithContext(ctx, func(ctx context.Context) {
			sendRequestsWorker(ctx, c, limiter, sem, generator, stats)
		})
	}

	chDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(chDone)
	}()

	statusTicker := time.NewTicker(1 * time.Second)
	defer statusTicker.Stop()
	for {
		select {
		case <-chDone:
			printStatus(generators, stats, sem)
			return
		case <-statusTicker.C:
			printStatus(generators, stats, sem)
		}
	}
}

func printStatus(generators []*requestGenerator, stats *counters, sem util.Semaphore) {
	remaining := uint64(0)
	for _, rg := range generators {
		remaining += atomic.LoadUint64(&rg.remaining)
	}
	fmt.Printf("%d remaining, %d in flight, %d ok, %d not found, %d failed, %d timed out\n",
		remaining,
		sem.InFlight(),
		atomic.LoadUint64(&stats.ok),
		atomic.LoadUint64(&stats.notFound),
		atomic.LoadUint64(&stats.failed),
		atomic.LoadUint64(&stats.timeouts),
	)
}

func sendRequestsWorker(
	ctx context.Context,
	c *client.Client,
	limiter *rate.Limiter,
	sem util.Semaphore,
	generator *requestGenerator,
	stats *counters,
) {
	for {
		r, ok := generator.next()
		if !ok {
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if !sem.Acquire(ctx) {
			return
		}
		result, err := send(ctx, c, r)
		sem.Release()
		stats.record(result, err)
	}
}

func send(ctx context.Context, c *client.Client, r request) (*hasocket.Result, error) {
	switch r.kind {
	case kindWrite:
		return c.Write(ctx, node.ServiceKV, "put", r.params())
	case kindNotify:
		return nil, c.Notify(ctx, node.ServiceKV, "put", r.params())
	default:
		return c.Read(ctx, node.ServiceKV, "get", r.params())
	}
}
