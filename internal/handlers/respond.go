package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the backend error envelope. Errors is a string or a
// field -> messages map.
type ErrorResponse struct {
	StatusCode int `json:"status_code"`
	Errors     any `json:"errors"`
}

type DetailResponse struct {
	Detail string `json:"detail"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, errs any) {
	respondWithJSON(w, status, ErrorResponse{StatusCode: status, Errors: errs})
}

func respondWithDetail(w http.ResponseWriter, status int, detail string) {
	respondWithJSON(w, status, DetailResponse{Detail: detail})
}

const msgInternal = "Erro interno do servidor"

var fieldMessages = map[string]string{
	"required": "Este campo é obrigatório.",
	"email":    "Insira um endereço de email válido.",
	"uuid":     "Insira um UUID válido.",
	"datetime": "Formato inválido para data. Use YYYY-MM-DD.",
	"oneof":    "Escolha um valor válido.",
	"min":      "Valor muito curto.",
	"max":      "Valor muito longo.",
	"eqfield":  "Os valores não coincidem.",
	"nefield":  "Os valores devem ser diferentes.",
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validationErrors maps validator failures to field -> messages.
func validationErrors(err error) map[string][]string {
	out := make(map[string][]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["non_field_errors"] = []string{err.Error()}
		return out
	}
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = "Valor inválido."
		}
		out[fe.Field()] = append(out[fe.Field()], msg)
	}
	return out
}
