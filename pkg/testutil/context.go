package testutil

import (
	"net/http"

	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/middleware/admin"
	"pharmatrace/pkg/platform/middleware/auth"
)

// AsParty sets the calling party header the auth middleware reads.
// An empty party leaves the request anonymous.
func AsParty(req *http.Request, party id.PartyID) *http.Request {
	if party != "" {
		req.Header.Set(auth.HeaderPartyID, party.String())
	}
	return req
}

// AsOperator attaches the admin token used by operator routes.
func AsOperator(req *http.Request, token string) *http.Request {
	req.Header.Set(admin.HeaderAdminToken, token)
	return req
}
