package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/minervavault/vault/internal/repository"
	"github.com/sirupsen/logrus"
)

const auditNoteKey contextKey = "audit_note"

// AuditNote lets a handler add what the audit wrapper cannot see: the user
// behind a login and the record state before a change.
type AuditNote struct {
	UserID   string
	Previous any
}

// Note returns the audit note of the request, or a throwaway one when the
// route is not audited.
func Note(ctx context.Context) *AuditNote {
	if n, ok := ctx.Value(auditNoteKey).(*AuditNote); ok {
		return n
	}
	return &AuditNote{}
}

// redacted keys never reach the audit log.
var redacted = []string{"access", "refresh", "password", "current_password", "new_password", "password_confirmation"}

type AuditMiddleware struct {
	repo   *repository.AuditRepository
	logger *logrus.Logger
}

func NewAuditMiddleware(repo *repository.AuditRepository, logger *logrus.Logger) *AuditMiddleware {
	return &AuditMiddleware{repo: repo, logger: logger}
}

// bodyRecorder keeps a copy of the response for the audit entry.
type bodyRecorder struct {
	statusRecorder
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Audit records every call of the wrapped route. Successes are recorded when
// the caller is known; failures when the caller is known or the action is a
// login attempt.
func (m *AuditMiddleware) Audit(action, module, table string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			preUser := UserID(r.Context())
			note := &AuditNote{}
			rec := &bodyRecorder{statusRecorder: statusRecorder{ResponseWriter: w, status: http.StatusOK}}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), auditNoteKey, note)))

			entry := repository.AuditLog{
				Action:    action,
				Module:    module,
				TableName: table,
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			}
			isLogin := module == "AUTH" && action == "LOGIN"

			if rec.status >= http.StatusBadRequest {
				if preUser == "" && !isLogin {
					return
				}
				entry.UserID = preUser
				if entry.UserID == "" {
					entry.UserID = note.UserID
				}
				entry.RecordID = uuid.New().String()
				entry.Status = repository.AuditError
				entry.ErrorMessage = rec.body.String()
				m.repo.Create(entry)
				return
			}

			entry.UserID = preUser
			if isLogin {
				entry.UserID = note.UserID
			}
			if entry.UserID == "" {
				return
			}

			newData := snapshot(rec.body.Bytes())
			entry.RecordID = mux.Vars(r)["id"]
			if entry.RecordID == "" {
				entry.RecordID = recordID(newData)
			}
			if entry.RecordID == "" {
				entry.RecordID = entry.UserID
			}
			entry.NewData = newData
			if note.Previous != nil {
				if b, err := json.Marshal(note.Previous); err == nil {
					entry.PreviousData = snapshot(b)
				} else {
					m.logger.WithError(err).Warn("Failed to encode audit snapshot")
				}
			}
			entry.Status = repository.AuditSuccess
			m.repo.Create(entry)
		})
	}
}

// snapshot strips credentials from a JSON object. Other payloads are kept
// as they are, and non-JSON bodies are dropped.
func snapshot(body []byte) json.RawMessage {
	if !json.Valid(body) {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return json.RawMessage(bytes.TrimSpace(body))
	}
	for _, k := range redacted {
		delete(obj, k)
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return out
}

func recordID(data json.RawMessage) string {
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(data, &obj) != nil {
		return ""
	}
	return obj.ID
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
