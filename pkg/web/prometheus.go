package web

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type promLogger struct {
	logger logrus.FieldLogger
}

func (pl promLogger) Println(v ...interface{}) {
	pl.logger.Warn(v...)
}

// metricsHandler exposes everything registered with gatherer in the Prometheus text format.
// Collection errors are logged, and the metrics which could be collected are still served.
func metricsHandler(logger logrus.FieldLogger, gatherer prometheus.Gatherer) http.HandlerFunc {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      promLogger{logger: logger.WithField("handler", "metrics")},
		ErrorHandling: promhttp.ContinueOnError,
	}).ServeHTTP
}
