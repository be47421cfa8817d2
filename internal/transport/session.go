package transport

import (
	"net/http"

	"github.com/rpggio/shopbrain/internal/domain/session"
)

// scopeFields are the tab identifiers carried by every brain request body.
// Older clients nest them under meta.
type scopeFields struct {
	TabID       string `json:"tab_id"`
	TabInstance string `json:"tab_instance"`
	Meta        *struct {
		TabID       string `json:"tab_id"`
		TabInstance string `json:"tab_instance"`
	} `json:"meta,omitempty"`
}

// scopeFromRequest builds the session scope from the authenticated user and
// the tab fields of the body, falling back to query parameters. Defaults and
// sanitizing are applied by session.NewScope.
func scopeFromRequest(r *http.Request, body scopeFields) session.Scope {
	userID, _ := UserFromContext(r.Context())

	tabID, tabInstance := body.TabID, body.TabInstance
	if body.Meta != nil {
		if tabID == "" {
			tabID = body.Meta.TabID
		}
		if tabInstance == "" {
			tabInstance = body.Meta.TabInstance
		}
	}
	q := r.URL.Query()
	if tabID == "" {
		tabID = q.Get("tab_id")
	}
	if tabInstance == "" {
		tabInstance = q.Get("tab_instance")
	}

	return session.NewScope(userID, tabID, tabInstance)
}
