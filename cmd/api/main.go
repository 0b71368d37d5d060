package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kmendoza-dev/approvalcore/internal/api"
	"github.com/kmendoza-dev/approvalcore/internal/approval"
	"github.com/kmendoza-dev/approvalcore/internal/config"
	"github.com/kmendoza-dev/approvalcore/internal/events"
	"github.com/kmendoza-dev/approvalcore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var logger *zap.Logger
	if cfg.Env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer logger.Sync()

	st, err := store.NewStore(cfg.DBSource, approval.ManualPayout{}, cfg.LockTimeout)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer st.Close()

	emitter := events.NewLogEmitter(logger.Named("events"), 256)
	defer emitter.Close()

	engine := approval.NewEngine(st, emitter, logger.Named("approval"))
	handler := api.NewHandler(st, engine)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/orders/{id}/decision", handler.DecideOrderHandler).Methods("POST")
	apiV1.HandleFunc("/wallet-loads/{id}/decision", handler.DecideWalletLoadHandler).Methods("POST")
	apiV1.HandleFunc("/requests/{id}", handler.GetRequestHandler).Methods("GET")
	apiV1.HandleFunc("/users/{id}/ledger", handler.GetUserLedgerHandler).Methods("GET")

	logger.Info("server starting", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
