// Package auth turns bearer tokens into principals and answers the
// permission questions of the coordinators.
package auth

import (
	"context"
	"slices"
)

// Global roles.
const (
	RoleUser        = "ROLE_USER"
	RolePremiumUser = "ROLE_PREMIUM_USER"
	RoleUploader    = "ROLE_UPLOADER"
	RoleReviewer    = "ROLE_REVIEWER"
	RoleAdmin       = "ROLE_ADMIN"
)

// Company roles.
const (
	CompanyOwner = "CompanyOwner"
	CompanyAdmin = "CompanyAdmin"
	DataUploader = "DataUploader"
	Member       = "Member"
)

// Principal is the identity behind a request. The zero value is anonymous.
type Principal struct {
	UserID string
	// CompanyID is the user's own company, billed for sourced data.
	CompanyID    string
	Roles        []string
	CompanyRoles map[string][]string
	Premium      bool
}

// Anonymous reports whether no user is authenticated.
func (p *Principal) Anonymous() bool {
	return p == nil || p.UserID == ""
}

func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

func (p *Principal) hasCompanyRole(companyID string, roles ...string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.CompanyRoles[companyID] {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

func (p *Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// IsPremium reports whether daily request quotas are waived.
func (p *Principal) IsPremium() bool {
	if p == nil {
		return false
	}
	return p.Premium || p.HasRole(RolePremiumUser) || p.IsAdmin()
}

// CanUpload reports whether the principal may upload data for companyID.
func (p *Principal) CanUpload(companyID string) bool {
	return p.HasRole(RoleUploader) || p.IsAdmin() ||
		p.hasCompanyRole(companyID, CompanyOwner, CompanyAdmin, DataUploader)
}

// CanBypassQa reports whether uploads for companyID may skip review.
func (p *Principal) CanBypassQa(companyID string) bool {
	return p.IsAdmin() || p.HasRole(RoleReviewer) ||
		p.hasCompanyRole(companyID, CompanyOwner, CompanyAdmin)
}

// CanViewUnaccepted reports whether data of companyID that is not yet
// accepted may be shown.
func (p *Principal) CanViewUnaccepted(companyID string) bool {
	return p.IsAdmin() || p.HasRole(RoleReviewer) || p.HasRole(RoleUploader) ||
		p.hasCompanyRole(companyID, CompanyOwner, CompanyAdmin, DataUploader, Member)
}

type ctxKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal of ctx, anonymous when none is set.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxKey{}).(*Principal); ok && p != nil {
		return p
	}
	return &Principal{}
}
