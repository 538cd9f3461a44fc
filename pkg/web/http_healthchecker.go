package web

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/atlassian/hasocket/pkg/healthcheck"
)

type healthChecker struct {
	logger       logrus.FieldLogger
	healthChecks []healthcheck.HealthcheckFunc
	deepChecks   []healthcheck.HealthcheckFunc
}

func respondToHealthChecks(resp http.ResponseWriter, checks []healthcheck.HealthcheckFunc) {
	report := healthcheck.Run(checks)
	resp.Header().Set("content-type", "application/json")
	if report.Healthy() {
		resp.WriteHeader(http.StatusOK)
	} else {
		resp.WriteHeader(http.StatusInternalServerError)
	}

	enc := jsoniter.NewEncoder(resp)
	_ = enc.Encode(report)
}

// healthCheck reports if the node is ready to process traffic.
func (hc *healthChecker) healthCheck(resp http.ResponseWriter, req *http.Request) {
	hc.logger.Debug("healthCheck")
	respondToHealthChecks(resp, hc.healthChecks)
}

// deepCheck reports on the status of downstream dependencies.
func (hc *healthChecker) deepCheck(resp http.ResponseWriter, req *http.Request) {
	hc.logger.Debug("deepCheck")
	respondToHealthChecks(resp, hc.deepChecks)
}
