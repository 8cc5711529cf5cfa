package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gathering_http_requests_total",
			Help: "Total number of HTTP requests processed by the gathering service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gathering_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gathering_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gathering_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gathering_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	membershipOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gathering_membership_operations_total",
			Help: "Membership operations by outcome code.",
		},
		[]string{"operation", "outcome"},
	)
	wsDroppedClientsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gathering_ws_dropped_clients_total",
			Help: "Websocket clients disconnected because their send queue was full.",
		},
	)
	wsFanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gathering_ws_fanout_total",
			Help: "Frames enqueued to websocket clients, by channel scope and event.",
		},
		[]string{"scope", "event"},
	)
	sweepAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gathering_sweep_affected_total",
			Help: "Gatherings touched by the periodic sweep.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		membershipOperationsTotal,
		wsDroppedClientsTotal,
		wsFanoutTotal,
		sweepAffectedTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Raw paths carry gathering ids; keep label cardinality bounded.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// ObserveMembership counts one coordinator operation; outcome is "ok" or an error code.
func ObserveMembership(operation, outcome string) {
	membershipOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// AddWSFanout counts n frames of event delivered on a room or user channel.
func AddWSFanout(scope, event string, n int) {
	if n > 0 {
		wsFanoutTotal.WithLabelValues(scope, event).Add(float64(n))
	}
}

func IncWSDropped() {
	wsDroppedClientsTotal.Inc()
}

func AddSweepAffected(action string, n int64) {
	if n > 0 {
		sweepAffectedTotal.WithLabelValues(action).Add(float64(n))
	}
}

// MetricsHandler exposes the default registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
