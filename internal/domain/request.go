package domain

import (
	"net/http"
	"strings"
)

// User is the authenticated caller as resolved by the authorization provider.
type User struct {
	Sub         string
	Email       string
	DisplayName string
	GroupUUIDs  []string
	// DataAdmin callers may act on behalf of any data provider group.
	DataAdmin bool
}

// InGroup reports whether the user is a member of groupUUID.
func (u *User) InGroup(groupUUID string) bool {
	if u == nil {
		return false
	}
	for _, g := range u.GroupUUIDs {
		if strings.EqualFold(g, groupUUID) {
			return true
		}
	}
	return false
}

// RequestContext carries the caller identity and request metadata through the
// validation and trigger pipeline.
type RequestContext struct {
	Token   string
	User    *User
	Headers http.Header
}

// Header returns the first value of a request header.
func (r *RequestContext) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// HasHeader reports whether the header was sent at all.
func (r *RequestContext) HasHeader(name string) bool {
	if r == nil || r.Headers == nil {
		return false
	}
	_, ok := r.Headers[http.CanonicalHeaderKey(name)]
	return ok
}

// CurrentUser returns the caller or an empty user.
func (r *RequestContext) CurrentUser() *User {
	if r == nil || r.User == nil {
		return &User{}
	}
	return r.User
}

// AuthToken returns the caller's bearer token or an empty string.
func (r *RequestContext) AuthToken() string {
	if r == nil {
		return ""
	}
	return r.Token
}
