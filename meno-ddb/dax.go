package menoddb

import (
	"fmt"

	"github.com/aws/aws-dax-go/dax"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// DAXWrapper adapts a DAX client to dynamodbiface.DynamoDBAPI.
type DAXWrapper struct {
	*dax.Dax
}

// DynamoDBAPI returns the client every DAO is built on. A DAX cluster takes
// precedence over a custom endpoint; with neither set the regular DynamoDB
// client for the session is returned.
func DynamoDBAPI(s *session.Session) (dynamodbiface.DynamoDBAPI, error) {
	switch {
	case DDBOpts.DAXCluster != "":
		config := dax.DefaultConfig()
		config.HostPorts = []string{DDBOpts.DAXCluster}
		config.Region = DDBOpts.DAXRegion
		daxClient, err := dax.New(config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to dax cluster %v: %w", DDBOpts.DAXCluster, err)
		}
		return DAXWrapper{Dax: daxClient}, nil

	case DDBOpts.Endpoint != "":
		return dynamodb.New(s, aws.NewConfig().WithEndpoint(DDBOpts.Endpoint)), nil

	default:
		return dynamodb.New(s), nil
	}
}

// MustDynamoDBAPI builds a session from the default credential chain and
// panics if the client cannot be created.
func MustDynamoDBAPI() dynamodbiface.DynamoDBAPI {
	api, err := DynamoDBAPI(session.Must(session.NewSession(aws.NewConfig())))
	if err != nil {
		panic(err)
	}
	return api
}

// The resource policy calls are missing from the DAX client. No DAO uses them.
func (DAXWrapper) DeleteResourcePolicy(*dynamodb.DeleteResourcePolicyInput) (*dynamodb.DeleteResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (DAXWrapper) DeleteResourcePolicyWithContext(aws.Context, *dynamodb.DeleteResourcePolicyInput, ...request.Option) (*dynamodb.DeleteResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (DAXWrapper) DeleteResourcePolicyRequest(*dynamodb.DeleteResourcePolicyInput) (*request.Request, *dynamodb.DeleteResourcePolicyOutput) {
	return nil, nil
}
func (DAXWrapper) GetResourcePolicy(*dynamodb.GetResourcePolicyInput) (*dynamodb.GetResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (DAXWrapper) GetResourcePolicyWithContext(aws.Context, *dynamodb.GetResourcePolicyInput, ...request.Option) (*dynamodb.GetResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (DAXWrapper) GetResourcePolicyRequest(*dynamodb.GetResourcePolicyInput) (*request.Request, *dynamodb.GetResourcePolicyOutput) {
	return nil, nil
}
func (DAXWrapper) PutResourcePolicy(*dynamodb.PutResourcePolicyInput) (*dynamodb.PutResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (DAXWrapper) PutResourcePolicyWithContext(aws.Context, *dynamodb.PutResourcePolicyInput, ...request.Option) (*dynamodb.PutResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (DAXWrapper) PutResourcePolicyRequest(*dynamodb.PutResourcePolicyInput) (*request.Request, *dynamodb.PutResourcePolicyOutput) {
	return nil, nil
}
