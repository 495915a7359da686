package models

import (
	"io"
	"net/url"
	"strconv"
	"time"
)

const (
	ThesisPending  = "PENDING"
	ThesisApproved = "APPROVED"
	ThesisRejected = "REJECTED"
)

// OrderBy selects the sort applied to thesis listings.
type OrderBy string

const (
	ByAuthorDesc      OrderBy = "BYAUTHORDESC"
	ByAuthorAsc       OrderBy = "BYAUTHORASC"
	ByAdviserDesc     OrderBy = "BYADVISERDESC"
	ByAdviserAsc      OrderBy = "BYADVISERASC"
	ByDefenseDateDesc OrderBy = "BYDEFENSEDATEDESC"
	ByDefenseDateAsc  OrderBy = "BYDEFENSEDATEASC"
	ByTitleAsc        OrderBy = "BYTITLEASC"
	ByTitleDesc       OrderBy = "BYTITLEDESC"
)

func (o OrderBy) Valid() bool {
	switch o {
	case ByAuthorDesc, ByAuthorAsc, ByAdviserDesc, ByAdviserAsc,
		ByDefenseDateDesc, ByDefenseDateAsc, ByTitleAsc, ByTitleDesc:
		return true
	}
	return false
}

// Orientation narrows "my theses" to the ones the user advises or co-advises.
type Orientation string

const (
	OrientationAdvisor   Orientation = "ADVISOR"
	OrientationCoAdvisor Orientation = "COADVISOR"
)

type Thesis struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      UserRef   `json:"author"`
	Advisor     UserRef   `json:"advisor"`
	CoAdvisor   *UserRef  `json:"co_advisor"`
	DefenseDate string    `json:"defense_date"`
	CreatedAt   time.Time `json:"created_at"`
	Abstract    string    `json:"abstract"`
	Keywords    string    `json:"keywords"`
	Status      string    `json:"status"`
}

type PDFMetadata struct {
	Info  map[string]string `json:"info"`
	Size  int64             `json:"size"`
	Pages int               `json:"pages"`
}

type ThesisDetail struct {
	Thesis
	PDFFile       *string      `json:"pdf_file"`
	PDFMetadata   *PDFMetadata `json:"pdf_metadata,omitempty"`
	PDFSize       *int64       `json:"pdf_size,omitempty"`
	PDFPages      *int         `json:"pdf_pages,omitempty"`
	PDFUploadedAt *time.Time   `json:"pdf_uploaded_at,omitempty"`
	CreatedBy     UserRef      `json:"created_by"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type ThesisList struct {
	Items       []Thesis `json:"items"`
	Total       int      `json:"total"`
	Pages       int      `json:"pages"`
	CurrentPage int      `json:"current_page"`
}

type ThesisFilters struct {
	Title         string
	AuthorName    string
	AdvisorName   string
	CoAdvisorName string
	DefenseDate   string
	Context       string
	OrderBy       OrderBy
	Page          int
	Orientation   Orientation
}

// Query encodes the non-empty filters as URL query parameters.
func (f ThesisFilters) Query() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("title", f.Title)
	set("author_name", f.AuthorName)
	set("advisor_name", f.AdvisorName)
	set("co_advisor_name", f.CoAdvisorName)
	set("defense_date", f.DefenseDate)
	set("context", f.Context)
	set("order_by", string(f.OrderBy))
	set("orientation", string(f.Orientation))
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	return q
}

// ParseThesisFilters is the inverse of Query. Unknown or malformed values are dropped.
func ParseThesisFilters(q url.Values) ThesisFilters {
	f := ThesisFilters{
		Title:         q.Get("title"),
		AuthorName:    q.Get("author_name"),
		AdvisorName:   q.Get("advisor_name"),
		CoAdvisorName: q.Get("co_advisor_name"),
		DefenseDate:   q.Get("defense_date"),
		Context:       q.Get("context"),
	}
	if o := OrderBy(q.Get("order_by")); o.Valid() {
		f.OrderBy = o
	}
	switch o := Orientation(q.Get("orientation")); o {
	case OrientationAdvisor, OrientationCoAdvisor:
		f.Orientation = o
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		f.Page = p
	}
	return f
}

// Upload is a file part of a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type CreateThesisInput struct {
	Title       string  `validate:"required,max=255"`
	AuthorID    string  `validate:"required,uuid"`
	AdvisorID   string  `validate:"required,uuid,nefield=AuthorID"`
	CoAdvisorID *string `validate:"omitempty,uuid_or_empty"`
	Abstract    string  `validate:"required"`
	Keywords    string  `validate:"required,max=255"`
	DefenseDate string  `validate:"required,datetime=2006-01-02"`
	PDF         *Upload `validate:"required"`
}

type UpdateThesisInput struct {
	Title       *string `validate:"omitempty,min=1,max=255"`
	AuthorID    *string `validate:"omitempty,uuid"`
	AdvisorID   *string `validate:"omitempty,uuid"`
	CoAdvisorID *string `validate:"omitempty,uuid_or_empty"`
	Abstract    *string `validate:"omitempty,min=1"`
	Keywords    *string `validate:"omitempty,min=1,max=255"`
	DefenseDate *string `validate:"omitempty,datetime=2006-01-02"`
	Status      *string `validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
	PDF         *Upload
}
