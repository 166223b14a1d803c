package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	checks := a.readinessChecks()
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		for _, c := range checks {
			if err := c.check(r.Context()); err != nil {
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.not_ready", "dependency", c.name, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(a.metricsReg, promhttp.HandlerOpts{Registry: a.metricsReg}))
	mux.Handle("/ws", a.ws)
}

// readinessChecks covers only the dependencies that were configured.
// NATS is best-effort for delivery but a disconnected client is still reported.
func (a *App) readinessChecks() []readinessCheck {
	var checks []readinessCheck
	if a.pool != nil {
		checks = append(checks, readinessCheck{name: "db", check: func(ctx context.Context) error {
			return PingDB(ctx, a.pool, 2*time.Second)
		}})
	}
	if a.rdb != nil {
		checks = append(checks, readinessCheck{name: "redis", check: func(ctx context.Context) error {
			return PingRedis(ctx, a.rdb, 2*time.Second)
		}})
	}
	if a.nc != nil {
		checks = append(checks, readinessCheck{name: "nats", check: func(context.Context) error {
			if st := a.nc.Status(); st != nats.CONNECTED {
				return errors.New("nats status " + st.String())
			}
			return nil
		}})
	}
	return checks
}
