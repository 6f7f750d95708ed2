package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Counters are usable before InitCustomMetrics; registration only exposes them.
var (
	AuthorizationCodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_authorization_codes_issued_total",
		Help: "Total number of authorization codes issued.",
	})
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_tokens_issued_total",
		Help: "Total number of access tokens issued, by grant type.",
	}, []string{"grant_type"})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_tokens_revoked_total",
		Help: "Total number of authorization records removed by revocation.",
	})
	OAuthErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_errors_total",
		Help: "Total number of OAuth error responses, by endpoint and error code.",
	}, []string{"endpoint", "error"})
	ClientAuthFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_client_auth_failures_total",
		Help: "Total number of failed client authentications.",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_rate_limited_requests_total",
		Help: "Total number of requests rejected by the rate limiter.",
	})
)

// InitCustomMetrics registers the custom Prometheus metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	for name, c := range map[string]prometheus.Collector{
		"AuthorizationCodesIssuedTotal": AuthorizationCodesIssuedTotal,
		"TokensIssuedTotal":             TokensIssuedTotal,
		"TokensRevokedTotal":            TokensRevokedTotal,
		"OAuthErrorsTotal":              OAuthErrorsTotal,
		"ClientAuthFailuresTotal":       ClientAuthFailuresTotal,
		"RateLimitedTotal":              RateLimitedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}

	log.Info().Msg("Custom Prometheus metrics registered.")
}
