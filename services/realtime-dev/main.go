package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	menoapi "github.com/meno-tutor/meno-go-realtime/meno-api"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	menoddb "github.com/meno-tutor/meno-go-realtime/meno-ddb"
	menorest "github.com/meno-tutor/meno-go-realtime/meno-rest"
	menows "github.com/meno-tutor/meno-go-realtime/meno-ws"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/devserver"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/memstore"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var service = menocli.NewService("meno-realtime-dev")

var opts struct {
	ReapInterval time.Duration
}

func main() {
	var flags []cli.Flag
	flags = append(flags, menocli.CommonFlags...)
	flags = append(flags, menocli.PortFlag(3002))
	flags = append(flags, menoddb.DDBFlags...)
	flags = append(flags, menows.TableFlags...)
	flags = append(flags, menows.CoordinatorFlags...)
	flags = append(flags, menows.RegistryFlags...)
	flags = append(flags, menows.EndpointFlag)
	flags = append(flags, menocli.DurationFlag("reap-interval", "how often expired presence is swept when running on the memory store", &opts.ReapInterval, 30*time.Second))

	app := menocli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	logger := menocli.Logger(service)
	stores, err := menows.BuildStores(menoddb.MustDynamoDBAPI, menocli.CommonOpts.Env)
	if err != nil {
		return err
	}
	coordinator, hydrator := menows.Build(service, stores, logger)

	server := devserver.New(coordinator, logger)
	if menows.RealtimeOpts.Store != menows.StoreMemory {
		server.Fallback = &menows.Poster{Endpoint: menows.RealtimeOpts.Endpoint}
	}
	dispatcher := &menows.Dispatcher{
		Broadcaster: coordinator.Broadcaster,
		Sender:      server,
		Logger:      logger,
	}
	api := &menoapi.API{
		Registry: menows.BuildRegistry(stores),
		Hydrator: hydrator,
		Leases:   coordinator.Leases,
		Presence: coordinator.Presence,
		Relay:    dispatcher,
	}

	if presence, ok := stores.Presence.(*memstore.Presence); ok {
		reaper := &menows.Reaper{Broadcaster: coordinator.Broadcaster, Sender: server, Logger: logger}
		go reap(c.Context, logger, presence, reaper)
	}

	routes := menorest.Middlewares(service, chi.NewRouter())
	server.Routes(routes)
	api.Routes(routes)

	logger.Info().
		Int("port", menocli.CommonOpts.Port).
		Str("store", menows.RealtimeOpts.Store).
		Msg("starting realtime dev server")
	return http.ListenAndServe(fmt.Sprintf(":%v", menocli.CommonOpts.Port), routes)
}

// reap plays the part of the table TTL and stream for the memory store.
func reap(ctx context.Context, logger zerolog.Logger, presence *memstore.Presence, reaper *menows.Reaper) {
	interval := opts.ReapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, record := range presence.Reap(now) {
				if err := reaper.Reap(ctx, record); err != nil {
					logger.Error().Err(err).Msg("failed to announce expired presence")
				}
			}
		}
	}
}
