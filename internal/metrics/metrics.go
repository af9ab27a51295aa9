package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veridian_http_requests_total",
		Help: "Requests HTTP por ruta y status",
	}, []string{"route", "status"})

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veridian_tokens_issued_total",
		Help: "Tokens emitidos por tipo (access|refresh|id)",
	}, []string{"type"})

	MFAVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veridian_mfa_verifications_total",
		Help: "Verificaciones MFA por tipo y resultado",
	}, []string{"type", "result"})

	Lockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veridian_lockouts_total",
		Help: "Cuentas bloqueadas por intentos fallidos",
	})
)

// Register registra las métricas en el registry dado (default si nil).
// AlreadyRegistered no es error: los tests levantan varios servers.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{HTTPRequests, TokensIssued, MFAVerifications, Lockouts} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
