package menows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
)

// Poster is the Sender for connections held by API Gateway. Frames are posted
// through the management API of the endpoint recorded on each connection.
type Poster struct {
	// Endpoint is used for connections stored without one.
	Endpoint string

	// NewClient builds the management client for an endpoint; defaults to an
	// aws-sdk client on a fresh session.
	NewClient func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	mu      sync.RWMutex
	clients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

func (p *Poster) Send(ctx context.Context, conn connectiondao.Connection, data []byte) error {
	endpoint := conn.Endpoint
	if endpoint == "" {
		endpoint = p.Endpoint
	}
	if endpoint == "" {
		return fmt.Errorf("no endpoint known for connection %v", conn.ConnectionID)
	}

	_, err := p.client(endpoint).PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(conn.ConnectionID),
		Data:         data,
	})
	if err != nil {
		if isGoneException(err) {
			return fmt.Errorf("failed to post to connection %v: %w", conn.ConnectionID, ErrGone)
		}
		return fmt.Errorf("failed to post to connection %v: %w", conn.ConnectionID, err)
	}
	return nil
}

func (p *Poster) client(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	p.mu.RLock()
	if client, ok := p.clients[endpoint]; ok {
		p.mu.RUnlock()
		return client
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[endpoint]; ok {
		return client
	}
	if p.clients == nil {
		p.clients = map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI{}
	}

	newClient := p.NewClient
	if newClient == nil {
		newClient = newManagementClient
	}
	client := newClient(endpoint)
	p.clients[endpoint] = client
	return client
}

func newManagementClient(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	s := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
	return apigatewaymanagementapi.New(s)
}

// isGoneException reports whether err means the connection no longer exists
// (HTTP 410).
func isGoneException(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == apigatewaymanagementapi.ErrCodeGoneException {
		return true
	}
	return strings.Contains(err.Error(), "GoneException") ||
		strings.Contains(err.Error(), "410")
}

// GatewayEndpoint is the management endpoint of a websocket API stage.
func GatewayEndpoint(domainName, stage string) string {
	return fmt.Sprintf("https://%s/%s", domainName, stage)
}
