package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProcessMode selects how an analyzer process computes its initial photo set.
type ProcessMode string

const (
	// ModeAdding selects only photos not owned by any process.
	ModeAdding ProcessMode = "adding"
	// ModeRemake selects all of the user's photos, detaching them from any
	// prior process.
	ModeRemake ProcessMode = "remake"
	// ModeRetry selects photos already owned by this process and keeps the
	// existing process sheet.
	ModeRetry ProcessMode = "retry"
)

// ProcessStage is a coarse progress marker for an analyzer process. It is
// advisory bookkeeping; the authoritative per-photo progress is the sheet.
type ProcessStage string

const (
	StageInit            ProcessStage = "init"
	StageVisionTasks     ProcessStage = "vision_tasks"
	StageTagsTasks       ProcessStage = "tags_tasks"
	StageEmbeddingsTags  ProcessStage = "embeddings_tags"
	StageChunksTasks     ProcessStage = "chunks_tasks"
	StageEmbeddingsChunk ProcessStage = "embeddings_chunks"
	StageFinished        ProcessStage = "finished"
	StageFailed          ProcessStage = "failed"
)

// TaskLedger tracks pending and completed photo ids for one task. The two
// sets are disjoint; ids only ever move between them.
type TaskLedger struct {
	Pending   []string `json:"pending"`
	Completed []string `json:"completed"`
}

// ProcessSheet maps task names to their per-photo ledgers. It is the durable
// resumability record for a process; all mutations are idempotent set
// operations so out-of-order or duplicate commits cannot corrupt it.
type ProcessSheet map[string]*TaskLedger

// Initialize resets every task ledger so all photo ids are pending and none
// completed. Re-invoking with the same inputs yields the same state.
func (s ProcessSheet) Initialize(taskNames []string, photoIDs []string) {
	for _, name := range taskNames {
		pending := make([]string, len(photoIDs))
		copy(pending, photoIDs)
		sort.Strings(pending)
		s[name] = &TaskLedger{Pending: pending, Completed: []string{}}
	}
}

// MarkCompleted moves the given photo ids from pending to completed for the
// named task. Ids absent from pending are not re-added, ids already completed
// are not duplicated, and unknown task names are a no-op so that sheets
// created before a package gained a task keep working.
func (s ProcessSheet) MarkCompleted(taskName string, photoIDs []string) {
	ledger, ok := s[taskName]
	if !ok {
		return
	}
	done := make(map[string]bool, len(photoIDs))
	for _, id := range photoIDs {
		done[id] = true
	}
	pending := ledger.Pending[:0]
	for _, id := range ledger.Pending {
		if !done[id] {
			pending = append(pending, id)
		}
	}
	ledger.Pending = pending

	have := make(map[string]bool, len(ledger.Completed))
	for _, id := range ledger.Completed {
		have[id] = true
	}
	for _, id := range photoIDs {
		if !have[id] {
			ledger.Completed = append(ledger.Completed, id)
			have[id] = true
		}
	}
	sort.Strings(ledger.Completed)
}

// PendingFor returns a sorted copy of the pending photo ids for a task.
func (s ProcessSheet) PendingFor(taskName string) []string {
	return s.copyOf(taskName, true)
}

// CompletedFor returns a sorted copy of the completed photo ids for a task.
func (s ProcessSheet) CompletedFor(taskName string) []string {
	return s.copyOf(taskName, false)
}

func (s ProcessSheet) copyOf(taskName string, pending bool) []string {
	ledger, ok := s[taskName]
	if !ok {
		return []string{}
	}
	src := ledger.Completed
	if pending {
		src = ledger.Pending
	}
	out := make([]string, len(src))
	copy(out, src)
	sort.Strings(out)
	return out
}

// AllCompleted reports whether every task ledger has an empty pending set.
func (s ProcessSheet) AllCompleted() bool {
	for _, ledger := range s {
		if len(ledger.Pending) > 0 {
			return false
		}
	}
	return true
}

// Render produces a human-readable dump of the sheet for operator debugging.
// It is never consulted by control logic.
func (s ProcessSheet) Render() string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		ledger := s[name]
		fmt.Fprintf(&b, "%s (%d/%d)\n", name, len(ledger.Completed), len(ledger.Completed)+len(ledger.Pending))
		ids := make(map[string]bool, len(ledger.Completed))
		all := make([]string, 0, len(ledger.Completed)+len(ledger.Pending))
		for _, id := range ledger.Completed {
			ids[id] = true
			all = append(all, id)
		}
		all = append(all, ledger.Pending...)
		sort.Strings(all)
		for _, id := range all {
			mark := "❌"
			if ids[id] {
				mark = "✅"
			}
			fmt.Fprintf(&b, "  %s %s\n", mark, id)
		}
	}
	return b.String()
}

// Value implements the driver.Valuer interface for database serialization.
func (s ProcessSheet) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (s *ProcessSheet) Scan(value interface{}) error {
	if value == nil {
		*s = ProcessSheet{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ProcessSheet")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, s)
}

// Process represents one orchestrated run of a task package over a set of
// owned photos.
type Process struct {
	ID           string       `gorm:"type:text;primaryKey" json:"id"`
	UserID       string       `gorm:"type:text;not null;index:idx_processes_user" json:"user_id"`
	PackageID    string       `gorm:"type:text;not null" json:"package_id"`
	Mode         ProcessMode  `gorm:"type:text;not null" json:"mode"`
	CurrentStage ProcessStage `gorm:"type:text;default:init" json:"current_stage"`
	Sheet        ProcessSheet `gorm:"type:text" json:"sheet"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Process.
func (Process) TableName() string {
	return "processes"
}

// Terminal reports whether the process has reached a terminal stage.
func (p *Process) Terminal() bool {
	return p.CurrentStage == StageFinished || p.CurrentStage == StageFailed
}
