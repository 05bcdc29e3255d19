package engine

import (
	"github.com/tonimelisma/playtrack/internal/catalog"
	"github.com/tonimelisma/playtrack/internal/monitor"
	"github.com/tonimelisma/playtrack/internal/savesync"
)

// GameStatus is a status record with its derived lifecycle state.
type GameStatus struct {
	monitor.Status
	State monitor.SessionState `json:"state"`
}

// ImportView is the import run as seen by the UI.
type ImportView struct {
	State    catalog.State     `json:"state"`
	Conflict *catalog.Conflict `json:"conflict,omitempty"`
}

// Snapshot is everything a presentation layer renders.
type Snapshot struct {
	Tracking            bool                    `json:"tracking"`
	CloudEnabled        bool                    `json:"cloud_enabled"`
	Games               []GameStatus            `json:"games"`
	PendingConfirmation *monitor.Status         `json:"pending_confirmation,omitempty"`
	PendingResume       *monitor.Status         `json:"pending_resume,omitempty"`
	PendingUpload       *savesync.PendingUpload `json:"pending_upload,omitempty"`
	Import              ImportView              `json:"import"`
}

// Snapshot assembles the current view from every component.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	s := Snapshot{
		Tracking:     e.tracking,
		CloudEnabled: e.cloudEnabled && e.cloud != nil,
	}
	e.mu.Unlock()

	statuses := e.machine.Statuses()
	s.Games = make([]GameStatus, 0, len(statuses))
	for _, st := range statuses {
		s.Games = append(s.Games, GameStatus{Status: st, State: st.State()})
	}

	if p, ok := e.machine.PendingConfirmation(); ok {
		s.PendingConfirmation = &p
	}

	if p, ok := e.machine.PendingResume(); ok {
		s.PendingResume = &p
	}

	if p, ok := e.decider.Pending(); ok {
		s.PendingUpload = &p
	}

	s.Import.State = e.importer.State()
	if c, ok := e.importer.Conflict(); ok {
		s.Import.Conflict = &c
	}

	return s
}
