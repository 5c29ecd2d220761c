package menoddb

import (
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	DAXRegion  string
	Endpoint   string
	TableName  string
}

var DAXClusterFlag = menocli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var DAXRegionFlag = menocli.StringFlag("dax-region", "The region of the DAX cluster", &DDBOpts.DAXRegion, "us-east-2")
var EndpointFlag = menocli.StringFlag("dynamodb-endpoint", "Custom DynamoDB endpoint, e.g. http://localhost:8000 for dynamodb-local", &DDBOpts.Endpoint)
var TableNameFlag = menocli.StringFlag("table-name", "The table name to read streams from", &DDBOpts.TableName)

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	DAXRegionFlag,
	EndpointFlag,
}

var StreamFlags = append([]cli.Flag{TableNameFlag}, DDBFlags...)
