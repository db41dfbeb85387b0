// Package caselog persists an audit trail of hearings to the case log
// database. It implements hearing.Recorder; writes are best-effort and a
// database failure is logged, never propagated into the hearing flow. The
// case log is an audit artifact only: hearings are not recovered from it.
package caselog

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/gavel/internal/hearing"
	"github.com/zulandar/gavel/internal/models"
	"gorm.io/gorm"
)

// Log writes hearing lifecycle events to the case log.
type Log struct {
	db *gorm.DB
}

// New creates a Log over an open, migrated database handle.
func New(db *gorm.DB) (*Log, error) {
	if db == nil {
		return nil, fmt.Errorf("caselog: db handle is required")
	}
	return &Log{db: db}, nil
}

// HearingOpened creates the case row and its opening event.
func (l *Log) HearingOpened(h *hearing.Hearing) {
	rec := models.CaseRecord{
		ThreadID: h.ID,
		GuildID:  h.Origin.GuildID,
		RaiserID: h.RaiserID,
		Status:   "open",
		OpenedAt: h.OpenedAt,
	}
	if err := l.db.Create(&rec).Error; err != nil {
		log.Printf("caselog: create case for %s: %v", h.ID, err)
		return
	}
	l.appendEvent(rec.ID, "opened", h.RaiserID,
		fmt.Sprintf("raised in %s/%s", h.Origin.GuildID, h.Origin.ChannelID))
}

// HearingEdited syncs the mutable case fields and records the edit.
func (l *Log) HearingEdited(h *hearing.Hearing, field, actor string) {
	id, ok := l.caseID(h.ID)
	if !ok {
		return
	}
	updates := map[string]interface{}{
		"party_a": h.PartyA,
		"party_b": h.PartyB,
		"issue":   h.Issue,
	}
	if err := l.db.Model(&models.CaseRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.Printf("caselog: update case %d: %v", id, err)
	}
	l.appendEvent(id, "edited", actor, field)
}

// RosterChanged records a roster sync summary.
func (l *Log) RosterChanged(h *hearing.Hearing, detail string) {
	if id, ok := l.caseID(h.ID); ok {
		l.appendEvent(id, "roster", "", detail)
	}
}

// VerdictPosted records the outcome on the case and as an event.
func (l *Log) VerdictPosted(h *hearing.Hearing, outcome, actor string) {
	id, ok := l.caseID(h.ID)
	if !ok {
		return
	}
	if err := l.db.Model(&models.CaseRecord{}).Where("id = ?", id).
		Update("outcome", outcome).Error; err != nil {
		log.Printf("caselog: record outcome for case %d: %v", id, err)
	}
	l.appendEvent(id, "verdict", actor, outcome)
}

// HearingClosed finalizes the case row.
func (l *Log) HearingClosed(h *hearing.Hearing, actor string) {
	id, ok := l.caseID(h.ID)
	if !ok {
		return
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":    "closed",
		"closed_at": &now,
	}
	if err := l.db.Model(&models.CaseRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.Printf("caselog: close case %d: %v", id, err)
	}
	l.appendEvent(id, "closed", actor, "")
}

// Recent returns the newest cases with their events, for the dashboard and
// the cases command.
func (l *Log) Recent(limit int) ([]models.CaseRecord, error) {
	var cases []models.CaseRecord
	err := l.db.Preload("Events").Order("id DESC").Limit(limit).Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("caselog: list cases: %w", err)
	}
	return cases, nil
}

// ByThread returns the case for one hearing thread.
func (l *Log) ByThread(threadID string) (*models.CaseRecord, error) {
	var rec models.CaseRecord
	err := l.db.Preload("Events").Where("thread_id = ?", threadID).First(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("caselog: case for thread %s: %w", threadID, err)
	}
	return &rec, nil
}

// caseID resolves a hearing thread to its case row id.
func (l *Log) caseID(threadID string) (uint, bool) {
	var rec models.CaseRecord
	if err := l.db.Select("id").Where("thread_id = ?", threadID).First(&rec).Error; err != nil {
		log.Printf("caselog: no case for thread %s: %v", threadID, err)
		return 0, false
	}
	return rec.ID, true
}

func (l *Log) appendEvent(caseID uint, kind, actor, detail string) {
	ev := models.CaseEvent{
		CaseID: caseID,
		Kind:   kind,
		Actor:  actor,
		Detail: detail,
	}
	if err := l.db.Create(&ev).Error; err != nil {
		log.Printf("caselog: append %s event to case %d: %v", kind, caseID, err)
	}
}
