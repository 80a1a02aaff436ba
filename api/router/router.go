package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bootstrap "github.com/newsalert/billing-portal/api/bootstrap"
	config "github.com/newsalert/billing-portal/api/config"
	grpcserver "github.com/newsalert/billing-portal/api/services/billing/grpc"
)

// NewRouter returns the central HTTP router for the API using grpc-gateway.
// Every BillingService RPC is mounted as a path handler next to /healthz and /metrics.
func NewRouter() http.Handler {
	// Initialize app dependencies (non-fatal if it fails here; RPCs re-check).
	if err := bootstrap.Ensure(); err != nil {
		slog.Error("bootstrap ensure failed", "err", err)
	}

	mux := runtime.NewServeMux(
		runtime.WithIncomingHeaderMatcher(grpcserver.HeaderMatcher),
		runtime.WithErrorHandler(grpcserver.ErrorHandler),
		runtime.WithHealthzEndpoint(grpcserver.LocalHealthClient{Server: bootstrap.HealthServer()}),
	)
	var appBaseURL string
	if config.AppConfig != nil {
		appBaseURL = config.AppConfig.AppBaseURL
	}
	srv := grpcserver.New(bootstrap.GetBillingService(), appBaseURL)
	if err := grpcserver.RegisterGateway(context.Background(), mux, srv); err != nil {
		slog.Error("failed to register grpc-gateway", "err", err)
	}
	metrics := promhttp.Handler()
	if err := mux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		metrics.ServeHTTP(w, r)
	}); err != nil {
		slog.Error("failed to register metrics endpoint", "err", err)
	}
	return mux
}
