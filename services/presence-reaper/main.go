package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	menoddb "github.com/meno-tutor/meno-go-realtime/meno-ddb"
	menows "github.com/meno-tutor/meno-go-realtime/meno-ws"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/presencedao"
	"github.com/urfave/cli/v2"
)

var service = menocli.NewService("meno-presence-reaper")

func main() {
	var flags []cli.Flag
	flags = append(flags, menocli.CommonFlags...)
	flags = append(flags, menoddb.StreamFlags...)
	flags = append(flags, menows.ConnectionsTableFlag, menows.PresenceTableFlag, menows.ConcurrencyFlag, menows.MetricsFlag, menows.EndpointFlag)

	app := menocli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	switch {
	case menoddb.DDBOpts.TableName != "":
	case menows.RealtimeOpts.PresenceTable != "":
		menoddb.DDBOpts.TableName = menows.RealtimeOpts.PresenceTable
	default:
		menoddb.DDBOpts.TableName = presencedao.TableName(menocli.CommonOpts.Env)
	}

	logger := menocli.Logger(service)
	stores := menows.DynamoDBStores(menoddb.MustDynamoDBAPI(), menocli.CommonOpts.Env)
	coordinator, _ := menows.Build(service, stores, logger)

	var sender menows.Sender = &menows.Poster{Endpoint: menows.RealtimeOpts.Endpoint}
	if menocli.CommonOpts.Dry {
		sender = menows.DrySender{Logger: logger}
	}

	reaper := &menows.Reaper{
		Broadcaster: coordinator.Broadcaster,
		Sender:      sender,
		Logger:      logger,
	}
	handler := menoddb.NewHandler(service, nil, nil, reaper.OnDelete)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return handler.Start(ctx)
}
