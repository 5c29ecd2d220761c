package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	menoddb "github.com/meno-tutor/meno-go-realtime/meno-ddb"
	menows "github.com/meno-tutor/meno-go-realtime/meno-ws"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/publish"
	"github.com/urfave/cli/v2"
)

var service = menocli.NewService("meno-session-relay")

func main() {
	var flags []cli.Flag
	flags = append(flags, menocli.CommonFlags...)
	flags = append(flags, menoddb.DDBFlags...)
	flags = append(flags, menows.TableFlags...)
	flags = append(flags, menows.ConcurrencyFlag, menows.MetricsFlag)
	flags = append(flags, menows.EndpointFlag, menows.StreamNameFlag)

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
	coordinator, _ := menows.Build(service, stores, logger)

	var sender menows.Sender = &menows.Poster{Endpoint: menows.RealtimeOpts.Endpoint}
	if menocli.CommonOpts.Dry {
		sender = menows.DrySender{Logger: logger}
	}

	dispatcher := &menows.Dispatcher{
		Broadcaster: coordinator.Broadcaster,
		Sender:      sender,
		Logger:      logger,
	}
	if !menocli.CommonOpts.Console {
		lambda.Start(dispatcher.HandleKinesisEvent)
		return nil
	}

	streamName := menows.RealtimeOpts.StreamName
	if streamName == "" {
		streamName = publish.StreamName(menocli.CommonOpts.Env)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return dispatcher.Scan(logger.WithContext(ctx), streamName)
}
