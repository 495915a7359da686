package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/minervavault/vault/internal/middleware"
	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
	"github.com/minervavault/vault/internal/service"
	"github.com/sirupsen/logrus"
)

const msgThesisNotFound = "Tese não encontrada"

type ThesisHandlers struct {
	thesisService *service.ThesisService
	theses        *repository.ThesisRepository
	users         *UserHandlers
	present       *presenter
	validate      *validator.Validate
	logger        *logrus.Logger
}

func NewThesisHandlers(
	thesisService *service.ThesisService,
	theses *repository.ThesisRepository,
	users *UserHandlers,
	logger *logrus.Logger,
) *ThesisHandlers {
	return &ThesisHandlers{
		thesisService: thesisService,
		theses:        theses,
		users:         users,
		present:       users.present,
		validate:      newValidator(),
		logger:        logger,
	}
}

func (h *ThesisHandlers) list(w http.ResponseWriter, r *http.Request, member string) {
	filters := models.ParseThesisFilters(r.URL.Query())
	if raw := r.URL.Query().Get("order_by"); raw != "" && !models.OrderBy(raw).Valid() {
		respondWithError(w, http.StatusBadRequest, map[string][]string{"order_by": {fieldMessages["oneof"]}})
		return
	}

	rows, total, pages := h.theses.List(repository.ThesisQuery{Filters: filters, Member: member}, h.present.name)

	page := filters.Page
	if page < 1 {
		page = 1
	}
	out := models.ThesisList{Items: []models.Thesis{}, Total: total, Pages: pages, CurrentPage: page}
	for _, t := range rows {
		out.Items = append(out.Items, h.present.thesis(t))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *ThesisHandlers) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

func (h *ThesisHandlers) Mine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, middleware.UserID(r.Context()))
}

func (h *ThesisHandlers) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.theses.Get(mux.Vars(r)["id"])
	if err != nil {
		respondWithDetail(w, http.StatusNotFound, msgThesisNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, h.present.thesisDetail(r, t))
}

func (h *ThesisHandlers) PDF(w http.ResponseWriter, r *http.Request) {
	t, err := h.theses.Get(mux.Vars(r)["id"])
	if err != nil || len(t.PDF) == 0 {
		respondWithDetail(w, http.StatusNotFound, msgThesisNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(t.PDF)))
	w.WriteHeader(http.StatusOK)
	w.Write(t.PDF)
}

type thesisRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=255"`
	AuthorID    *string `json:"author_id" validate:"omitempty,uuid"`
	AdvisorID   *string `json:"advisor_id" validate:"omitempty,uuid"`
	CoAdvisorID *string `json:"co_advisor_id" validate:"omitempty,uuid"`
	Abstract    *string `json:"abstract" validate:"omitempty,min=1"`
	Keywords    *string `json:"keywords" validate:"omitempty,min=1,max=255"`
	DefenseDate *string `json:"defense_date" validate:"omitempty,datetime=2006-01-02"`
	Status      *string `json:"status" validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
}

// readThesis parses and validates a thesis body. It answers the request
// itself and returns false on failure.
func (h *ThesisHandlers) readThesis(w http.ResponseWriter, r *http.Request, create bool) (service.ThesisInput, bool) {
	var in service.ThesisInput

	f, err := readForm(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return in, false
	}

	var req thesisRequest
	req.Title, _ = f.get("title")
	req.AuthorID, _ = f.get("author_id")
	req.AdvisorID, _ = f.get("advisor_id")
	req.Abstract, _ = f.get("abstract")
	req.Keywords, _ = f.get("keywords")
	req.DefenseDate, _ = f.get("defense_date")
	req.Status, _ = f.get("status")

	// null or "" clears the co-advisor
	if v, sent := f.get("co_advisor_id"); sent {
		if v == nil || *v == "" || *v == "null" {
			empty := ""
			in.CoAdvisorID = &empty
		} else {
			req.CoAdvisorID = v
			in.CoAdvisorID = v
		}
	}

	errs := map[string][]string{}
	if err := h.validate.Struct(req); err != nil {
		errs = validationErrors(err)
	}

	pdf, fh, err := f.file("pdf_file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return in, false
	}
	if fh != nil && (!strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") || !service.IsPDF(pdf)) {
		errs["pdf_file"] = append(errs["pdf_file"], "O arquivo deve ser um PDF")
	}

	if create {
		required := map[string]bool{
			"title":        req.Title != nil && *req.Title != "",
			"author_id":    req.AuthorID != nil,
			"advisor_id":   req.AdvisorID != nil,
			"abstract":     req.Abstract != nil && *req.Abstract != "",
			"keywords":     req.Keywords != nil && *req.Keywords != "",
			"defense_date": req.DefenseDate != nil,
			"pdf_file":     fh != nil,
		}
		for field, present := range required {
			if !present {
				errs[field] = append(errs[field], fieldMessages["required"])
			}
		}
		if req.Status != nil {
			errs["status"] = append(errs["status"], "O status é definido automaticamente.")
		}
	}

	if len(errs) > 0 {
		respondWithError(w, http.StatusBadRequest, errs)
		return in, false
	}

	in.Title = req.Title
	in.AuthorID = req.AuthorID
	in.AdvisorID = req.AdvisorID
	in.Abstract = req.Abstract
	in.Keywords = req.Keywords
	in.DefenseDate = req.DefenseDate
	in.Status = req.Status
	if fh != nil {
		in.PDF = pdf
		in.PDFName = fh.Filename
	}
	return in, true
}

func (h *ThesisHandlers) respondServiceError(w http.ResponseWriter, err error) {
	var ruleErr *service.RuleError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondWithDetail(w, http.StatusNotFound, msgThesisNotFound)
	case errors.Is(err, service.ErrForbidden):
		respondWithDetail(w, http.StatusForbidden, "Você não tem permissão para realizar esta ação.")
	case errors.As(err, &ruleErr):
		respondWithError(w, http.StatusBadRequest, []string{ruleErr.Message})
	default:
		h.logger.WithError(err).Error("Thesis operation failed")
		respondWithDetail(w, http.StatusInternalServerError, msgInternal)
	}
}

func (h *ThesisHandlers) Create(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.users.currentUser(w, r)
	if !ok {
		return
	}
	in, ok := h.readThesis(w, r, true)
	if !ok {
		return
	}

	t, err := h.thesisService.Create(requester, in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, h.present.thesisDetail(r, t))
}

func (h *ThesisHandlers) Update(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.users.currentUser(w, r)
	if !ok {
		return
	}
	in, ok := h.readThesis(w, r, false)
	if !ok {
		return
	}

	t, err := h.thesisService.Update(requester, mux.Vars(r)["id"], in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.present.thesisDetail(r, t))
}

func (h *ThesisHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.users.currentUser(w, r)
	if !ok {
		return
	}
	if err := h.thesisService.Delete(requester, mux.Vars(r)["id"]); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
