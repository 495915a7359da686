package vault

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minervavault/vault/internal/client"
	"github.com/minervavault/vault/internal/models"
)

const (
	msgListTheses   = "Falha ao buscar teses"
	msgGetThesis    = "Falha ao buscar detalhes da tese"
	msgMyTheses     = "Falha ao buscar teses do usuário"
	msgCreateThesis = "Falha ao cadastrar tese. Tente novamente mais tarde."
	msgUpdateThesis = "Falha ao atualizar tese. Tente novamente mais tarde."
	msgDeleteThesis = "Falha ao excluir tese. Tente novamente mais tarde."
	msgDownloadPDF  = "Falha ao baixar o arquivo PDF da tese."
)

func thesisPath(id string) string {
	return "/thesis/" + url.PathEscape(id)
}

func (s *Service) ListTheses(ctx context.Context, filters models.ThesisFilters) (*models.ThesisList, error) {
	var list models.ThesisList
	req := &client.Request{Method: http.MethodGet, Path: "/thesis", Query: filters.Query()}
	if err := s.call(ctx, req, &list, msgListTheses); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListMyTheses lists the theses the logged-in user authored, advises or
// co-advises. filters.Orientation narrows to one relation.
func (s *Service) ListMyTheses(ctx context.Context, filters models.ThesisFilters) (*models.ThesisList, error) {
	var list models.ThesisList
	req := &client.Request{Method: http.MethodGet, Path: "/thesis/me", Query: filters.Query()}
	if err := s.call(ctx, req, &list, msgMyTheses); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Service) GetThesis(ctx context.Context, id string) (*models.ThesisDetail, error) {
	var detail models.ThesisDetail
	if err := s.call(ctx, &client.Request{Method: http.MethodGet, Path: thesisPath(id)}, &detail, msgGetThesis); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *Service) CreateThesis(ctx context.Context, in models.CreateThesisInput) (*models.ThesisDetail, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if !isPDF(in.PDF) {
		return nil, &ValidationError{Fields: []FieldError{{Field: "PDF", Rule: "pdf"}}}
	}

	form := client.NewMultipart().
		Field("title", in.Title).
		Field("author_id", in.AuthorID).
		Field("advisor_id", in.AdvisorID)
	if in.CoAdvisorID != nil && *in.CoAdvisorID != "" {
		form.Field("co_advisor_id", *in.CoAdvisorID)
	}
	form.Field("abstract", in.Abstract).
		Field("keywords", in.Keywords).
		Field("defense_date", in.DefenseDate).
		File("pdf_file", in.PDF.Filename, pdfContentType(in.PDF), in.PDF.Body)

	var detail models.ThesisDetail
	err := s.call(ctx, &client.Request{Method: http.MethodPost, Path: "/thesis/", Multipart: form}, &detail, msgCreateThesis)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// UpdateThesis sends only the fields that are set. A replacement PDF turns
// the request into a multipart upload.
func (s *Service) UpdateThesis(ctx context.Context, id string, in models.UpdateThesisInput) (*models.ThesisDetail, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.PDF != nil && !isPDF(in.PDF) {
		return nil, &ValidationError{Fields: []FieldError{{Field: "PDF", Rule: "pdf"}}}
	}

	fields := updateFields(in)
	req := &client.Request{Method: http.MethodPatch, Path: thesisPath(id)}
	if in.PDF != nil {
		form := client.NewMultipart()
		for _, f := range fields {
			form.Field(f.name, f.value)
		}
		form.File("pdf_file", in.PDF.Filename, pdfContentType(in.PDF), in.PDF.Body)
		req.Multipart = form
	} else {
		body := make(map[string]any, len(fields))
		for _, f := range fields {
			body[f.name] = f.value
		}
		// an explicitly empty co-advisor removes it
		if in.CoAdvisorID != nil && *in.CoAdvisorID == "" {
			body["co_advisor_id"] = nil
		}
		req.JSON = body
	}

	var detail models.ThesisDetail
	if err := s.call(ctx, req, &detail, msgUpdateThesis); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *Service) DeleteThesis(ctx context.Context, id string) error {
	return s.call(ctx, &client.Request{Method: http.MethodDelete, Path: thesisPath(id)}, nil, msgDeleteThesis)
}

// DownloadPDF streams the thesis PDF into w and returns the suggested file
// name.
func (s *Service) DownloadPDF(ctx context.Context, id string, w io.Writer) (string, error) {
	detail, err := s.GetThesis(ctx, id)
	if err != nil {
		return "", err
	}

	target := thesisPath(id) + "/pdf"
	if detail.PDFFile != nil && *detail.PDFFile != "" {
		target = *detail.PDFFile
	}

	resp, err := s.api.Do(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   target,
		Header: http.Header{"Accept": {"application/pdf"}},
	})
	if err != nil {
		s.report(err, msgDownloadPDF)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Message: msgDownloadPDF}
		s.report(apiErr, msgDownloadPDF)
		return "", apiErr
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write pdf: %w", err)
	}
	return PDFFileName(detail.Author.Name, detail.DefenseDate), nil
}

// PDFFileName builds AUTHOR_NAME_DDMMYYYY.pdf. An unparsable defense date
// becomes 00000000.
func PDFFileName(author, defenseDate string) string {
	name := strings.Join(strings.Fields(strings.ToUpper(author)), "_")
	if name == "" {
		name = "TESE"
	}
	date := "00000000"
	if t, err := time.Parse(time.DateOnly, defenseDate); err == nil {
		date = t.Format("02012006")
	}
	return name + "_" + date + ".pdf"
}

type formField struct {
	name, value string
}

func updateFields(in models.UpdateThesisInput) []formField {
	var out []formField
	add := func(name string, v *string) {
		if v != nil {
			out = append(out, formField{name: name, value: *v})
		}
	}
	add("title", in.Title)
	add("author_id", in.AuthorID)
	add("advisor_id", in.AdvisorID)
	// "" asks the backend to remove the co-advisor
	add("co_advisor_id", in.CoAdvisorID)
	add("abstract", in.Abstract)
	add("keywords", in.Keywords)
	add("defense_date", in.DefenseDate)
	add("status", in.Status)
	return out
}

func isPDF(u *models.Upload) bool {
	return u != nil && u.Body != nil && strings.HasSuffix(strings.ToLower(u.Filename), ".pdf")
}

func pdfContentType(u *models.Upload) string {
	if u.ContentType != "" {
		return u.ContentType
	}
	return "application/pdf"
}
