package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	menoddb "github.com/meno-tutor/meno-go-realtime/meno-ddb"
	menows "github.com/meno-tutor/meno-go-realtime/meno-ws"
	"github.com/urfave/cli/v2"
)

var service = menocli.NewService("meno-ws-gateway")

func main() {
	var flags []cli.Flag
	flags = append(flags, menocli.CommonFlags...)
	flags = append(flags, menoddb.DDBFlags...)
	flags = append(flags, menows.TableFlags...)
	flags = append(flags, menows.CoordinatorFlags...)
	flags = append(flags, menows.EndpointFlag)

	app := menocli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	if menocli.CommonOpts.Console {
		return fmt.Errorf("%v only runs behind API Gateway; use realtime-dev locally", service.Name)
	}

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

	handler := &menows.Handler{
		Coordinator: coordinator,
		Sender:      sender,
		Logger:      logger,
	}
	lambda.Start(handler.HandleEvent)
	return nil
}
