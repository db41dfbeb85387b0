// Package models defines the GORM models for the Gavel case log.
package models

import "time"

// CaseRecord is the audit record for one hearing. It is append-mostly: a row
// is created when a hearing opens and finalized when it closes. The case log
// is an operator-facing audit artifact; the live routing state of a hearing
// lives only in the in-memory store and is not recovered from these rows.
type CaseRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ThreadID  string `gorm:"size:64;not null;uniqueIndex"`
	GuildID   string `gorm:"size:64;not null;index"`
	RaiserID  string `gorm:"size:64;not null"`
	PartyA    string `gorm:"size:64"`
	PartyB    string `gorm:"size:64"`
	Issue     string `gorm:"size:32"`
	Outcome   string `gorm:"size:32"`
	Status    string `gorm:"size:16;default:open;index"` // open, closed
	OpenedAt  time.Time
	ClosedAt  *time.Time
	CreatedAt time.Time

	Events []CaseEvent `gorm:"foreignKey:CaseID"`
}

// CaseEvent records a single lifecycle event within a case: an edit, a
// roster sync summary, a verdict, or the close itself.
type CaseEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CaseID    uint   `gorm:"not null;index"`
	Kind      string `gorm:"size:32;not null"` // opened, edited, roster, verdict, closed
	Actor     string `gorm:"size:64"`
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time

	Case CaseRecord `gorm:"foreignKey:CaseID"`
}
