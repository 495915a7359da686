package repository

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minervavault/vault/internal/models"
	"github.com/sirupsen/logrus"
)

// PageSize is the number of theses per listing page.
const PageSize = 10

type Thesis struct {
	ID            string
	Title         string
	AuthorID      string
	AdvisorID     string
	CoAdvisorID   string
	Abstract      string
	Keywords      string
	DefenseDate   string
	Status        string
	PDF           []byte
	PDFName       string
	PDFInfo       map[string]string
	PDFPages      int
	PDFUploadedAt time.Time
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Names resolves user IDs to display names for filtering and sorting.
type Names func(userID string) string

// ThesisQuery is a listing request. Member restricts results to theses the
// user authored or (co-)advises.
type ThesisQuery struct {
	Filters models.ThesisFilters
	Member  string
}

type ThesisRepository struct {
	mu       sync.RWMutex
	theses   map[string]*Thesis
	pageSize int
	logger   *logrus.Logger
}

func NewThesisRepository(logger *logrus.Logger) *ThesisRepository {
	return &ThesisRepository{
		theses:   make(map[string]*Thesis),
		pageSize: PageSize,
		logger:   logger,
	}
}

func (r *ThesisRepository) Create(t *Thesis) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	if len(t.PDF) > 0 {
		t.PDFUploadedAt = now
	}
	stored := *t
	r.theses[t.ID] = &stored
	r.logger.WithField("thesis_id", t.ID).Debug("Thesis created")
}

func (r *ThesisRepository) Get(id string) (*Thesis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.theses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *ThesisRepository) Update(id string, fn func(*Thesis) error) (*Thesis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.theses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now()
	r.theses[id] = &cp

	out := cp
	return &out, nil
}

func (r *ThesisRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.theses[id]; !ok {
		return ErrNotFound
	}
	delete(r.theses, id)
	return nil
}

// List filters, sorts and pages the stored theses. It returns the page, the
// total match count and the page count.
func (r *ThesisRepository) List(q ThesisQuery, names Names) ([]*Thesis, int, int) {
	r.mu.RLock()
	var matched []*Thesis
	for _, t := range r.theses {
		if q.Member != "" && !isMember(t, q.Member, q.Filters.Orientation) {
			continue
		}
		if !matches(t, q.Filters, names) {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	r.mu.RUnlock()

	sortTheses(matched, q.Filters.OrderBy, names)

	total := len(matched)
	pages := (total + r.pageSize - 1) / r.pageSize
	page := q.Filters.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * r.pageSize
	if start >= total {
		return nil, total, pages
	}
	end := start + r.pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, pages
}

func isMember(t *Thesis, userID string, o models.Orientation) bool {
	switch o {
	case models.OrientationAdvisor:
		return t.AdvisorID == userID
	case models.OrientationCoAdvisor:
		return t.CoAdvisorID == userID
	}
	return t.AuthorID == userID || t.AdvisorID == userID || t.CoAdvisorID == userID
}

func contains(haystack, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// matches applies the field filters. The free-text context filter looks at
// title, abstract and keywords.
func matches(t *Thesis, f models.ThesisFilters, names Names) bool {
	if !contains(t.Title, f.Title) {
		return false
	}
	if !contains(names(t.AuthorID), f.AuthorName) {
		return false
	}
	if !contains(names(t.AdvisorID), f.AdvisorName) {
		return false
	}
	if f.CoAdvisorName != "" && (t.CoAdvisorID == "" || !contains(names(t.CoAdvisorID), f.CoAdvisorName)) {
		return false
	}
	if f.DefenseDate != "" && t.DefenseDate != f.DefenseDate {
		return false
	}
	if f.Context != "" &&
		!contains(t.Title, f.Context) && !contains(t.Abstract, f.Context) && !contains(t.Keywords, f.Context) {
		return false
	}
	return true
}

// sortTheses defaults to the newest defense first.
func sortTheses(ts []*Thesis, order models.OrderBy, names Names) {
	key := func(t *Thesis) string { return t.DefenseDate }
	desc := true
	switch order {
	case models.ByAuthorAsc, models.ByAuthorDesc:
		key = func(t *Thesis) string { return strings.ToLower(names(t.AuthorID)) }
		desc = order == models.ByAuthorDesc
	case models.ByAdviserAsc, models.ByAdviserDesc:
		key = func(t *Thesis) string { return strings.ToLower(names(t.AdvisorID)) }
		desc = order == models.ByAdviserDesc
	case models.ByTitleAsc, models.ByTitleDesc:
		key = func(t *Thesis) string { return strings.ToLower(t.Title) }
		desc = order == models.ByTitleDesc
	case models.ByDefenseDateAsc:
		desc = false
	}

	sort.SliceStable(ts, func(i, j int) bool {
		a, b := key(ts[i]), key(ts[j])
		if a == b {
			return ts[i].ID < ts[j].ID
		}
		if desc {
			return a > b
		}
		return a < b
	})
}
