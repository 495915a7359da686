package service

import (
	"fmt"

	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
)

// SamplePDF is a one-page document used for the demo thesis.
var SamplePDF = []byte("%PDF-1.4\n" +
	"1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n" +
	"2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj\n" +
	"3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >> endobj\n" +
	"4 0 obj << /Title (Arquiteturas de Referencia) /Author (Ana Souza) >> endobj\n" +
	"trailer << /Root 1 0 R /Info 4 0 R >>\n%%EOF\n")

// Seeded holds the IDs of the demo records.
type Seeded struct {
	AdminID     string
	ProfessorID string
	StudentID   string
	ThesisID    string
}

// Seed creates one account per role, all sharing password, and one approved
// thesis.
func Seed(users *repository.UserRepository, theses *repository.ThesisRepository, passwords *PasswordService, password string) (*Seeded, error) {
	hash, err := passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	accounts := []struct {
		username, first, last, role string
	}{
		{"admin", "Maria", "Oliveira", repository.RoleAdmin},
		{"prof.silva", "Carlos", "Silva", repository.RoleProfessor},
		{"aluno.souza", "Ana", "Souza", repository.RoleStudent},
	}

	ids := make([]string, len(accounts))
	for i, a := range accounts {
		role, ok := users.RoleByName(a.role)
		if !ok {
			return nil, fmt.Errorf("role %s is not registered", a.role)
		}
		u := &repository.User{
			Username:           a.username,
			Email:              a.username + "@minerva.local",
			FirstName:          a.first,
			LastName:           a.last,
			PasswordHash:       hash,
			LastPasswordChange: passwords.Now(),
			RoleIDs:            []string{role.ID},
			IsActive:           true,
		}
		if err := users.Create(u); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", a.username, err)
		}
		ids[i] = u.ID
	}

	pages, info := PDFMetadata(SamplePDF)
	t := &repository.Thesis{
		Title:       "Arquiteturas de Referência para Repositórios Acadêmicos",
		AuthorID:    ids[2],
		AdvisorID:   ids[1],
		Abstract:    "Estudo sobre a organização de repositórios institucionais de monografias.",
		Keywords:    "repositórios, arquitetura, monografias",
		DefenseDate: "2024-06-14",
		Status:      models.ThesisApproved,
		PDF:         SamplePDF,
		PDFName:     "monografia.pdf",
		PDFPages:    pages,
		PDFInfo:     info,
		CreatedBy:   ids[1],
	}
	theses.Create(t)

	return &Seeded{AdminID: ids[0], ProfessorID: ids[1], StudentID: ids[2], ThesisID: t.ID}, nil
}
