package web

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/atlassian/hasocket"
)

type roleAdmin struct {
	logger logrus.FieldLogger
	roles  RoleSetter
}

type roleRequest struct {
	Role hasocket.Role `json:"role"`
}

// setRole changes the role of the local node.  The role is taken from the "role" query parameter,
// or from a {"role": ...} body.
func (ra *roleAdmin) setRole(resp http.ResponseWriter, req *http.Request) {
	rr := roleRequest{Role: hasocket.Role(req.URL.Query().Get("role"))}
	if rr.Role == "" {
		if err := jsoniter.NewDecoder(req.Body).Decode(&rr); err != nil {
			ra.logger.WithError(err).Info("invalid role request")
			http.Error(resp, "invalid role request", http.StatusBadRequest)
			return
		}
	}
	if !rr.Role.Valid() {
		http.Error(resp, "role must be master or slave", http.StatusBadRequest)
		return
	}
	if err := ra.roles.SetRole(req.Context(), rr.Role); err != nil {
		ra.logger.WithError(err).WithField("role", rr.Role).Warn("failed to change role")
		http.Error(resp, err.Error(), http.StatusInternalServerError)
		return
	}
	resp.WriteHeader(http.StatusNoContent)
}
