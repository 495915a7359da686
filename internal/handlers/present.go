package handlers

import (
	"net/http"

	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
	"github.com/minervavault/vault/internal/service"
)

// presenter turns records into the JSON shapes the API returns.
type presenter struct {
	users     *repository.UserRepository
	passwords *service.PasswordService
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (p *presenter) profile(r *http.Request, u *repository.User) models.UserProfile {
	out := models.UserProfile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		Roles:     []models.Role{},
	}
	for _, id := range u.RoleIDs {
		if role, ok := p.users.RoleByID(id); ok {
			out.Roles = append(out.Roles, role)
		}
	}
	if len(u.Avatar) > 0 {
		url := baseURL(r) + "/user/" + u.ID + "/avatar"
		out.AvatarURL = &url
	}
	return out
}

func (p *presenter) detailedProfile(r *http.Request, u *repository.User) models.UserProfile {
	out := p.profile(r, u)
	out.PasswordStatus = p.passwords.Status(u)
	return out
}

// ref resolves a user ID to the compact form. Unknown IDs keep the ID only.
func (p *presenter) ref(id string) models.UserRef {
	u, err := p.users.GetByID(id)
	if err != nil {
		return models.UserRef{ID: id}
	}
	ref := models.UserRef{ID: u.ID, Name: u.FullName()}
	if len(u.RoleIDs) > 0 {
		if role, ok := p.users.RoleByID(u.RoleIDs[0]); ok {
			ref.Role = &role
		}
	}
	return ref
}

func (p *presenter) name(id string) string {
	u, err := p.users.GetByID(id)
	if err != nil {
		return ""
	}
	return u.FullName()
}

func (p *presenter) thesis(t *repository.Thesis) models.Thesis {
	out := models.Thesis{
		ID:          t.ID,
		Title:       t.Title,
		Author:      p.ref(t.AuthorID),
		Advisor:     p.ref(t.AdvisorID),
		DefenseDate: t.DefenseDate,
		CreatedAt:   t.CreatedAt,
		Abstract:    t.Abstract,
		Keywords:    t.Keywords,
		Status:      t.Status,
	}
	if t.CoAdvisorID != "" {
		co := p.ref(t.CoAdvisorID)
		out.CoAdvisor = &co
	}
	return out
}

func (p *presenter) thesisDetail(r *http.Request, t *repository.Thesis) models.ThesisDetail {
	out := models.ThesisDetail{
		Thesis:    p.thesis(t),
		CreatedBy: p.ref(t.CreatedBy),
		UpdatedAt: t.UpdatedAt,
	}
	if len(t.PDF) > 0 {
		url := baseURL(r) + "/thesis/" + t.ID + "/pdf"
		size := int64(len(t.PDF))
		pages := t.PDFPages
		uploaded := t.PDFUploadedAt
		out.PDFFile = &url
		out.PDFSize = &size
		out.PDFPages = &pages
		out.PDFUploadedAt = &uploaded
		out.PDFMetadata = &models.PDFMetadata{Info: t.PDFInfo, Size: size, Pages: pages}
	}
	return out
}
