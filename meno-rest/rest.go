// Package menorest provides the chi router setup shared by the meno HTTP
// services: CORS, a request scoped logger and panic recovery, plus a server
// that runs locally in console mode and behind API Gateway otherwise.
package menorest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	menocli "github.com/meno-tutor/meno-go-realtime/meno-cli"
	"github.com/rs/zerolog"
	"github.com/savaki/apigateway"
)

func Middlewares(service menocli.Service, routes chi.Router) chi.Router {
	routes.Use(
		middleware.RequestID,
		withCORS(),
		withLogger(menocli.Logger(service)),
		middleware.Recoverer,
	)
	return routes
}

func Webserver(service menocli.Service, routes chi.Router) error {
	logger := menocli.Logger(service)

	if menocli.CommonOpts.Console {
		logger.Info().Int("port", menocli.CommonOpts.Port).Msg("starting http server")
		addr := fmt.Sprintf(":%v", menocli.CommonOpts.Port)
		return http.ListenAndServe(addr, routes)
	}

	lambda.Start(apigateway.Wrap(routes, menocli.CommonOpts.Env))
	return nil
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, req *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(req.Context()).Warn().Err(err).Msg("failed to write response")
	}
}

// DecodeJSON reads the request body into v. An empty body leaves v untouched.
func DecodeJSON(req *http.Request, v interface{}) error {
	if req.Body == nil || req.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			l := logger.With().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("request_id", middleware.GetReqID(req.Context())).
				Logger()
			req = req.WithContext(l.WithContext(req.Context()))
			handler.ServeHTTP(w, req)
		})
	}
}
