// Package permission turns an authenticated session into the per-request
// view of what its user may see: the organization scope plus either
// everything in it or an explicit filename allow-list.
package permission

import (
	"log/slog"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/logging"
	"github.com/tessellate-ai/raggate/internal/session"
	"github.com/tessellate-ai/raggate/internal/store"
)

// View is the resolved permission scope for one request. Every retrieval
// predicate is derived from a View, never from raw session fields, so the
// tenant invariant has a single enforcement point.
type View struct {
	UserID         string
	Role           string
	OrganizationID string

	// AllowAll grants every file in the organization.
	AllowAll bool

	// AllowedFilenames is the allow-list when not AllowAll.
	AllowedFilenames []string
}

// Resolve builds the permission view for a session. Admin and owner roles
// see their whole organization, as does any user whose allow-list carries
// the "all" sentinel. A session without an organization cannot be scoped
// and fails closed.
func Resolve(sess *session.Session) (*View, error) {
	if sess == nil {
		return nil, gateerrors.Unauthenticated("no session", nil)
	}
	if sess.OrganizationID == "" {
		return nil, gateerrors.OrganizationRequired("user has no organization context")
	}

	view := &View{
		UserID:         sess.UserID,
		Role:           sess.Role,
		OrganizationID: sess.OrganizationID,
	}

	if sess.Role == session.RoleAdmin || sess.Role == session.RoleOwner {
		view.AllowAll = true
		return view, nil
	}

	for _, f := range sess.AllowedFiles {
		if f == session.AllowAllSentinel {
			view.AllowAll = true
			return view, nil
		}
	}

	view.AllowedFilenames = append([]string(nil), sess.AllowedFiles...)
	return view, nil
}

// Where translates the view into a store predicate. The allow-list rides
// along only when the view is restricted; an empty restricted list yields
// a predicate that can match nothing, which is the correct fail-closed
// behavior for a user with no file grants.
func (v *View) Where() store.Where {
	w := store.Where{OrganizationID: v.OrganizationID}
	if !v.AllowAll {
		w.Filenames = v.AllowedFilenames
		if len(w.Filenames) == 0 {
			w.Filenames = []string{""}
		}
	}
	return w
}

// CanSee reports whether the view permits the filename.
func (v *View) CanSee(filename string) bool {
	if v.AllowAll {
		return true
	}
	for _, f := range v.AllowedFilenames {
		if f == filename {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the view's role may use write endpoints.
func (v *View) IsAdmin() bool {
	return v.Role == session.RoleAdmin || v.Role == session.RoleOwner
}

// GuardOrganization rejects a request targeting a different organization
// than the view's. The attempt is logged as a security event; the caller
// receives an organization-forbidden error whose public kind is NotFound,
// so responses never reveal that the foreign resource exists.
func GuardOrganization(logger *slog.Logger, v *View, targetOrg string) error {
	if targetOrg == "" || targetOrg == v.OrganizationID {
		return nil
	}

	logging.SecurityEvent(logger, "cross-organization access attempt",
		slog.String("user_id", v.UserID),
		slog.String("user_org", v.OrganizationID),
		slog.String("target_org", targetOrg))

	return gateerrors.OrganizationForbidden("resource belongs to another organization")
}
