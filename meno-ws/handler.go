package menows

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

// Handler adapts API Gateway websocket events to the Coordinator.
type Handler struct {
	Coordinator *Coordinator
	Sender      Sender // defaults to a shared Poster
	Logger      zerolog.Logger

	poster Poster
}

func (h *Handler) sender() Sender {
	if h.Sender != nil {
		return h.Sender
	}
	return &h.poster
}

// HandleEvent routes an API Gateway websocket event. $connect, $disconnect
// and $default are handled explicitly; any other route key is treated as a
// message whose route was selected by its action.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()
	ctx = logger.WithContext(ctx)

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(ctx, logger, req)
	default:
		return h.handleMessage(ctx, req)
	}
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	params, err := ParseConnectParams(func(key string) string {
		return req.QueryStringParameters[key]
	})
	if err != nil {
		logger.Warn().Err(err).Msg("rejecting connection")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: err.Error()}, nil
	}

	endpoint := GatewayEndpoint(req.RequestContext.DomainName, req.RequestContext.Stage)
	if err := h.Coordinator.Connect(ctx, h.sender(), req.RequestContext.ConnectionID, endpoint, params); err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func (h *Handler) handleDisconnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	if err := h.Coordinator.Disconnect(ctx, h.sender(), req.RequestContext.ConnectionID); err != nil {
		logger.Error().Err(err).Msg("disconnect incomplete")
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func (h *Handler) handleMessage(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	ack := h.Coordinator.Dispatch(ctx, h.sender(), req.RequestContext.ConnectionID, []byte(req.Body))
	return events.APIGatewayProxyResponse{
		StatusCode: ack.StatusCode,
		Body:       string(ack.Frame()),
	}, nil
}
