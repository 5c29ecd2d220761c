package main

import (
	"log"
	"os"

	"github.com/go-chi/chi/v5"
	menoapi "github.com/meno-tutor/meno-go-realtime/meno-api"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	menoddb "github.com/meno-tutor/meno-go-realtime/meno-ddb"
	menorest "github.com/meno-tutor/meno-go-realtime/meno-rest"
	menows "github.com/meno-tutor/meno-go-realtime/meno-ws"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/publish"
	"github.com/urfave/cli/v2"
)

var service = menocli.NewService("meno-realtime-api")

func main() {
	var flags []cli.Flag
	flags = append(flags, menocli.CommonFlags...)
	flags = append(flags, menocli.PortFlag(3001))
	flags = append(flags, menoddb.DDBFlags...)
	flags = append(flags, menows.TableFlags...)
	flags = append(flags, menows.CoordinatorFlags...)
	flags = append(flags, menows.RegistryFlags...)
	flags = append(flags, menows.StreamNameFlag)

	app := menocli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	logger := menocli.Logger(service)
	stores, err := menows.BuildStores(menoddb.MustDynamoDBAPI, menocli.CommonOpts.Env)
	if err != nil {
		return err
	}
	coordinator, hydrator := menows.Build(service, stores, logger)

	api := &menoapi.API{
		Registry: menows.BuildRegistry(stores),
		Hydrator: hydrator,
		Leases:   coordinator.Leases,
		Presence: coordinator.Presence,
	}
	if !menocli.CommonOpts.Dry {
		api.Relay = publish.Build(streamName())
	}

	routes := menorest.Middlewares(service, chi.NewRouter())
	api.Routes(routes)
	return menorest.Webserver(service, routes)
}

func streamName() string {
	if menows.RealtimeOpts.StreamName != "" {
		return menows.RealtimeOpts.StreamName
	}
	return publish.StreamName(menocli.CommonOpts.Env)
}
