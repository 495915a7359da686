package service

import (
	"bytes"
	"errors"
	"regexp"

	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
	"github.com/sirupsen/logrus"
)

var ErrForbidden = errors.New("forbidden")

// ThesisInput carries the fields of a create or update. Nil fields are left
// unchanged on update; CoAdvisorID pointing at "" clears the co-advisor.
type ThesisInput struct {
	Title       *string
	AuthorID    *string
	AdvisorID   *string
	CoAdvisorID *string
	Abstract    *string
	Keywords    *string
	DefenseDate *string
	Status      *string
	PDF         []byte
	PDFName     string
}

type ThesisService struct {
	users  *repository.UserRepository
	theses *repository.ThesisRepository
	logger *logrus.Logger
}

func NewThesisService(users *repository.UserRepository, theses *repository.ThesisRepository, logger *logrus.Logger) *ThesisService {
	return &ThesisService{users: users, theses: theses, logger: logger}
}

func (s *ThesisService) hasRole(u *repository.User, name string) bool {
	role, ok := s.users.RoleByName(name)
	if !ok {
		return false
	}
	for _, id := range u.RoleIDs {
		if id == role.ID {
			return true
		}
	}
	return false
}

func (s *ThesisService) requireRole(userID, role, message string) error {
	u, err := s.users.GetByID(userID)
	if err != nil {
		return &RuleError{Message: "Usuário não encontrado"}
	}
	if !s.hasRole(u, role) {
		return &RuleError{Message: message}
	}
	return nil
}

// checkParticipants enforces that the author is a student and the
// (co-)advisors are professors.
func (s *ThesisService) checkParticipants(in ThesisInput) error {
	if in.AuthorID != nil {
		if err := s.requireRole(*in.AuthorID, repository.RoleStudent, "A autoria da tese deve ser de um estudante"); err != nil {
			return err
		}
	}
	if in.AdvisorID != nil {
		if err := s.requireRole(*in.AdvisorID, repository.RoleProfessor, "A orientação da tese deve ser de um professor"); err != nil {
			return err
		}
	}
	if in.CoAdvisorID != nil && *in.CoAdvisorID != "" {
		if err := s.requireRole(*in.CoAdvisorID, repository.RoleProfessor, "A coorientação da tese deve ser de um professor"); err != nil {
			return err
		}
	}
	return nil
}

// Create registers a thesis. Students may only submit their own work and
// their submissions start PENDING; staff submissions are APPROVED.
func (s *ThesisService) Create(requester *repository.User, in ThesisInput) (*repository.Thesis, error) {
	var status string
	switch {
	case s.hasRole(requester, repository.RoleStudent):
		if *in.AuthorID != requester.ID {
			return nil, &RuleError{Message: "Usuário não tem permissão para criar tese em nome de outro estudante"}
		}
		status = models.ThesisPending
	case s.hasRole(requester, repository.RoleProfessor), s.hasRole(requester, repository.RoleAdmin):
		status = models.ThesisApproved
	default:
		return nil, &RuleError{Message: "Usuário não tem permissão para criar tese"}
	}

	if err := s.checkParticipants(in); err != nil {
		return nil, err
	}

	t := &repository.Thesis{
		Title:       *in.Title,
		AuthorID:    *in.AuthorID,
		AdvisorID:   *in.AdvisorID,
		Abstract:    *in.Abstract,
		Keywords:    *in.Keywords,
		DefenseDate: *in.DefenseDate,
		Status:      status,
		CreatedBy:   requester.ID,
	}
	if in.CoAdvisorID != nil {
		t.CoAdvisorID = *in.CoAdvisorID
	}
	s.attachPDF(t, in)

	s.theses.Create(t)
	s.logger.WithFields(logrus.Fields{"thesis_id": t.ID, "status": status}).Info("Thesis created")
	return t, nil
}

// canEdit allows admins, the creator and the advisor.
func (s *ThesisService) canEdit(requester *repository.User, t *repository.Thesis) bool {
	return s.hasRole(requester, repository.RoleAdmin) ||
		t.CreatedBy == requester.ID ||
		t.AdvisorID == requester.ID
}

func (s *ThesisService) Update(requester *repository.User, id string, in ThesisInput) (*repository.Thesis, error) {
	current, err := s.theses.Get(id)
	if err != nil {
		return nil, err
	}
	if !s.canEdit(requester, current) {
		return nil, ErrForbidden
	}
	if in.Status != nil && !s.hasRole(requester, repository.RoleProfessor) && !s.hasRole(requester, repository.RoleAdmin) {
		return nil, ErrForbidden
	}
	if err := s.checkParticipants(in); err != nil {
		return nil, err
	}

	return s.theses.Update(id, func(t *repository.Thesis) error {
		set := func(dst *string, v *string) {
			if v != nil {
				*dst = *v
			}
		}
		set(&t.Title, in.Title)
		set(&t.AuthorID, in.AuthorID)
		set(&t.AdvisorID, in.AdvisorID)
		set(&t.CoAdvisorID, in.CoAdvisorID)
		set(&t.Abstract, in.Abstract)
		set(&t.Keywords, in.Keywords)
		set(&t.DefenseDate, in.DefenseDate)
		set(&t.Status, in.Status)
		if len(in.PDF) > 0 {
			s.attachPDF(t, in)
		}
		return nil
	})
}

func (s *ThesisService) Delete(requester *repository.User, id string) error {
	current, err := s.theses.Get(id)
	if err != nil {
		return err
	}
	if !s.canEdit(requester, current) {
		return ErrForbidden
	}
	return s.theses.Delete(id)
}

func (s *ThesisService) attachPDF(t *repository.Thesis, in ThesisInput) {
	t.PDF = in.PDF
	t.PDFName = in.PDFName
	t.PDFPages, t.PDFInfo = PDFMetadata(in.PDF)
}

var (
	pdfPage = regexp.MustCompile(`/Type\s*/Page[^s]`)
	pdfInfo = regexp.MustCompile(`/(Title|Author|Subject|Creator|Producer)\s*\(([^)]*)\)`)
)

// PDFMetadata counts page objects and reads the plain-text entries of the
// document info dictionary. Compressed object streams are not inspected.
func PDFMetadata(data []byte) (int, map[string]string) {
	pages := len(pdfPage.FindAll(data, -1))
	info := make(map[string]string)
	for _, m := range pdfInfo.FindAllSubmatch(data, -1) {
		info[string(m[1])] = string(bytes.TrimSpace(m[2]))
	}
	return pages, info
}

// IsPDF checks the file signature.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}
