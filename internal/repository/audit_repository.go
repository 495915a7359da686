package repository

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	AuditSuccess = "SUCCESS"
	AuditError   = "ERROR"
)

// AuditLog records one audited API call. PreviousData and NewData hold JSON
// snapshots and may be nil.
type AuditLog struct {
	ID           string
	UserID       string
	Action       string
	Module       string
	TableName    string
	RecordID     string
	PreviousData json.RawMessage
	NewData      json.RawMessage
	IPAddress    string
	UserAgent    string
	Status       string
	ErrorMessage string
	Timestamp    time.Time
}

type AuditRepository struct {
	mu     sync.RWMutex
	logs   []AuditLog
	logger *logrus.Logger
}

func NewAuditRepository(logger *logrus.Logger) *AuditRepository {
	return &AuditRepository{logger: logger}
}

func (r *AuditRepository) Create(entry AuditLog) AuditLog {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.logs = append(r.logs, entry)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"audit_id":  entry.ID,
		"user_id":   entry.UserID,
		"action":    entry.Action,
		"module":    entry.Module,
		"table":     entry.TableName,
		"record_id": entry.RecordID,
		"status":    entry.Status,
		"ip":        entry.IPAddress,
	}).Info("Audit entry recorded")
	return entry
}

// List returns the entries newest first.
func (r *AuditRepository) List() []AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AuditLog, len(r.logs))
	for i, e := range r.logs {
		out[len(r.logs)-1-i] = e
	}
	return out
}
