// Copyright 2015 Claudemiro Alves Feitosa Neto. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpmock provides the server bootstrap: store selection, routing
// of the control surface and the HTTP server lifecycle.
package httpmock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"httpmock/api"
	"httpmock/config"
	"httpmock/instance"
	"httpmock/logger"
	"httpmock/postgres"
	"httpmock/redis"
	"httpmock/storage"
	"httpmock/websockets"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server
const ShutdownTimeout = 5 * time.Second

// NewStore opens the store selected by conf
func NewStore(ctx context.Context, conf config.Storage) (storage.Store, error) {
	switch conf.Driver {
	case "", config.DriverMemory:
		return storage.NewInMemory(), nil
	case config.DriverRedis:
		s, err := redis.NewStore(ctx, redis.Options{
			Addr:      conf.Redis.Addr,
			Password:  conf.Redis.Password,
			DB:        conf.Redis.DB,
			KeyPrefix: conf.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.NewStore(conf.Postgres.DSN, conf.Postgres.Table)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", conf.Driver)
}

// NewRouter routes the reserved paths to the control surface and everything
// else to the dispatcher
func NewRouter(inst *instance.Instance) *mux.Router {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.RecoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)

	router := mux.NewRouter()
	router.Use(recovery)

	router.Path("/_expectation").Methods("POST").Handler(api.NewAddExpectation(inst))
	router.Path("/_expectation").Methods("GET").Handler(api.NewListExpectations(inst))
	router.Path("/_expectation").Methods("DELETE").Handler(api.NewDeleteExpectations(inst))
	router.Path("/_all").Methods("DELETE").Handler(api.NewDeleteAll(inst))

	// count and stream must be registered before the selector route
	router.Path("/_request/count").Methods("GET").Handler(api.NewCountRequests(inst))
	router.Path("/_request/stream").Methods("GET").Handler(websockets.NewStream(inst))
	router.Path("/_request/{selector}").Methods("GET").Handler(api.NewGetRequest(inst))
	router.Path("/_request/{selector}").Methods("DELETE").Handler(api.NewPopRequest(inst))
	router.Path("/_request").Methods("DELETE").Handler(api.NewDeleteRequests(inst))

	router.Path("/_me").Methods("GET", "HEAD").Handler(&api.Me{})

	// Middlewares only run for matched routes
	router.NotFoundHandler = recovery(api.NewDispatcher(inst))
	router.MethodNotAllowedHandler = &api.MethodNotAllowed{}

	return router
}

// Start opens the configured store, seeds the expectations and serves until
// ctx is done
func Start(ctx context.Context, conf config.File) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	store, err := NewStore(ctx, conf.Storage)
	if err != nil {
		logger.ErrorWithErr("Failed to open storage", err, zap.String("driver", conf.Storage.Driver))
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.ErrorWithErr("Failed to close storage", err)
		}
	}()

	inst := instance.New(conf.InstanceID, store)
	if conf.MaxBodyBytes > 0 {
		inst.MaxBodyBytes = conf.MaxBodyBytes
	}

	for i := range conf.Expectations {
		if _, err := inst.Expectations.Add(ctx, conf.Expectations[i]); err != nil {
			logger.ErrorWithErr("Failed to add expectation", err, zap.Int("index", i))
			return err
		}
	}

	ln, err := net.Listen("tcp", conf.Host)
	if err != nil {
		logger.ErrorWithErr("Failed to listen", err, zap.String("host", conf.Host))
		return err
	}

	err = Serve(ctx, ln, inst)

	// Shared backends outlive the process, leave nothing behind
	if conf.Storage.Driver == config.DriverRedis || conf.Storage.Driver == config.DriverPostgres {
		if resetErr := inst.Reset(context.Background()); resetErr != nil {
			logger.ErrorWithErr("Failed to clear instance collections", resetErr, zap.String("instance_id", inst.ID))
		}
	}

	return err
}

// Serve answers requests on ln for inst until ctx is done
func Serve(ctx context.Context, ln net.Listener, inst *instance.Instance) error {
	server := &http.Server{
		Handler:           NewRouter(inst),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No ReadTimeout/WriteTimeout: stream subscribers and delayed
		// responses are long-lived
		ConnState: func(conn net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				logger.Debug(logger.MsgAcceptedConnection, zap.String("remote_addr", conn.RemoteAddr().String()))
			case http.StateClosed, http.StateHijacked:
				logger.Debug(logger.MsgClosingConnection, zap.String("remote_addr", conn.RemoteAddr().String()))
			}
		},
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(ln)
	}()

	logger.Info(logger.MsgServerStarted, zap.String("host", ln.Addr().String()), zap.String("instance_id", inst.ID))

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.ErrorWithErr("Graceful shutdown failed", shutdownErr)
			_ = server.Close()
		}
		err = <-errc
	}

	logger.Info(logger.MsgServerStopped, zap.String("instance_id", inst.ID))

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
