package fiscal

import (
	"time"

	"hotelfiscal/internal/core/apperror"
)

// Status is the emission state of an entry.
type Status string

const (
	StatusPending     Status = "pending"
	StatusEmitted     Status = "emitted"
	StatusFailed      Status = "failed"
	StatusErrorConfig Status = "error_config"
	StatusIgnored     Status = "ignored"
)

// History actions.
const (
	ActionCreated      = "created"
	ActionReceived     = "received"
	ActionStatusChange = "status_change"
	ActionXMLStored    = "xml_stored"
	ActionPDFStored    = "pdf_stored"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusEmitted, StatusFailed, StatusErrorConfig, StatusIgnored},
	StatusFailed:      {StatusPending, StatusEmitted, StatusIgnored},
	StatusErrorConfig: {StatusPending, StatusIgnored},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusEmitted, StatusFailed, StatusErrorConfig, StatusIgnored:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusEmitted || s == StatusIgnored
}

// Retryable reports whether an operator retry may move the entry back to pending.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusErrorConfig
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusUpdate describes one atomic status change and its payload.
type StatusUpdate struct {
	To      Status
	User    string
	Details string

	// LastError replaces last_error when non-nil; an empty string clears it.
	LastError *string

	// Authorization data, accepted only with To == StatusEmitted.
	DocUUID   string
	Serie     int
	Number    int64
	AccessKey string
	XMLPath   string
}

// ErrorText is a helper for StatusUpdate.LastError.
func ErrorText(s string) *string { return &s }

// ApplyStatus validates and applies u to e, appending one history record.
func (e *Entry) ApplyStatus(u StatusUpdate, now time.Time) error {
	if !CanTransition(e.Status, u.To) {
		return apperror.NewInvalidTransition(string(e.Status), string(u.To)).WithDetail("id", e.ID)
	}
	if u.To != StatusEmitted && (u.DocUUID != "" || u.Number != 0 || u.XMLPath != "") {
		return apperror.NewValidation("authorization data is only accepted when emitting").WithDetail("id", e.ID)
	}
	if u.To == StatusEmitted {
		if u.DocUUID == "" || u.Number <= 0 {
			return apperror.NewValidation("emitted entries require document id and number").WithDetail("id", e.ID)
		}
		e.FiscalDocUUID = u.DocUUID
		e.FiscalSerie = u.Serie
		e.FiscalNumber = u.Number
		e.FiscalAccessKey = u.AccessKey
		if u.XMLPath != "" {
			e.XMLReady = true
			e.XMLPath = u.XMLPath
		}
	}
	if u.LastError != nil {
		e.LastError = *u.LastError
	}

	e.History = append(e.History, HistoryRecord{
		Timestamp: now,
		Action:    ActionStatusChange,
		From:      e.Status,
		To:        u.To,
		User:      u.User,
		Details:   u.Details,
	})
	e.Status = u.To
	e.UpdatedAt = now
	return nil
}

// ArtifactKind names a stored fiscal artifact.
type ArtifactKind string

const (
	ArtifactXML ArtifactKind = "xml"
	ArtifactPDF ArtifactKind = "pdf"
)

// ApplyArtifact marks an artifact as stored.
func (e *Entry) ApplyArtifact(kind ArtifactKind, path, user string, now time.Time) error {
	action := ActionXMLStored
	switch kind {
	case ArtifactXML:
		e.XMLReady = true
		e.XMLPath = path
	case ArtifactPDF:
		action = ActionPDFStored
		e.PDFReady = true
		e.PDFPath = path
	default:
		return apperror.NewValidation("unknown artifact kind").WithDetail("kind", kind)
	}
	e.History = append(e.History, HistoryRecord{
		Timestamp: now,
		Action:    action,
		User:      user,
		Details:   path,
	})
	e.UpdatedAt = now
	return nil
}
