// Package session holds the durable facts of one workflow run: objective,
// strategy, blueprint, attached context, and the append-only generation
// history. The state is owned exclusively by the workflow engine and mutated
// only through its methods.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aegisprime/pkg/proto"
)

// DefaultName is the session name used when the user never sets one.
const DefaultName = "aegis-session"

// Pillar is one strategy dimension's chosen value plus its rationale.
type Pillar struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Strategy is the record of exactly four pillars. All four must be populated
// before the strategy can be confirmed.
type Strategy struct {
	Persona  Pillar `json:"persona"`
	Audience Pillar `json:"audience"`
	Format   Pillar `json:"format"`
	Tone     Pillar `json:"tone"`
}

// Pillar returns the pillar stored under the given key.
func (s *Strategy) Pillar(key proto.PillarKey) Pillar {
	switch key {
	case proto.PillarPersona:
		return s.Persona
	case proto.PillarAudience:
		return s.Audience
	case proto.PillarFormat:
		return s.Format
	case proto.PillarTone:
		return s.Tone
	default:
		return Pillar{}
	}
}

// SetPillar replaces the pillar stored under the given key, leaving the other
// three untouched. This is the only mutation a strategy supports.
func (s *Strategy) SetPillar(key proto.PillarKey, p Pillar) {
	switch key {
	case proto.PillarPersona:
		s.Persona = p
	case proto.PillarAudience:
		s.Audience = p
	case proto.PillarFormat:
		s.Format = p
	case proto.PillarTone:
		s.Tone = p
	}
}

// Validate checks that all four pillars are present and non-empty.
func (s *Strategy) Validate() error {
	for _, key := range proto.PillarKeys() {
		p := s.Pillar(key)
		if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Description) == "" {
			return fmt.Errorf("strategy pillar %q is incomplete", key)
		}
	}
	return nil
}

// Blueprint is the generated draft prompt plus its analysis, suggestions, and
// optional clarifying questions. Blueprints are replaced whole; every
// refinement yields a brand-new value.
type Blueprint struct {
	Prompt      string   `json:"prompt"`
	Analysis    string   `json:"analysis"`
	Suggestions []string `json:"suggestions"`
	Questions   []string `json:"questions,omitempty"`
}

// Attachment is a binary file supplied alongside the objective. Data is the
// base64-encoded payload; it is passed to the gateway as an opaque part,
// never inlined as text.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
	Size     int64  `json:"size"`
	Summary  string `json:"summary,omitempty"` // analysis summary, rendered into the request context
}

// URLContext is a structured summary of a URL supplied as grounding material.
type URLContext struct {
	URL               string   `json:"url"`
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	KeyPoints         []string `json:"key_points"`
	SourceCredibility string   `json:"source_credibility"`
}

// HistoryKind tags a history entry with the generation call that produced it.
type HistoryKind string

const (
	HistoryStrategy            HistoryKind = "strategy"
	HistoryPillarRefinement    HistoryKind = "pillar_refinement"
	HistoryBlueprint           HistoryKind = "blueprint"
	HistoryBlueprintRefinement HistoryKind = "blueprint_refinement"
	HistoryURLContext          HistoryKind = "url_context"
)

// HistoryEntry records one completed generation call. Entries are append-only
// and are the export source of truth for the session.
type HistoryEntry struct {
	ID              string      `json:"id"`
	Kind            HistoryKind `json:"kind"`
	Prompt          string      `json:"prompt"`
	Response        string      `json:"response"`
	AttachmentNames []string    `json:"attachment_names,omitempty"`
	StrategyContext string      `json:"strategy_context,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// State holds everything durable about one workflow run.
type State struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Objective   string         `json:"objective"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	URLContext  *URLContext    `json:"url_context,omitempty"`
	Strategy    *Strategy      `json:"strategy,omitempty"`
	Blueprint   *Blueprint     `json:"blueprint,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// New creates an empty session state with a fresh ID.
func New() *State {
	return &State{
		ID:        uuid.New().String(),
		Name:      DefaultName,
		CreatedAt: time.Now().UTC(),
	}
}

// AddAttachment registers a new attachment and returns its generated ID.
func (s *State) AddAttachment(name, mimeType, data string, size int64) string {
	att := Attachment{
		ID:       uuid.New().String(),
		Name:     name,
		MimeType: mimeType,
		Data:     data,
		Size:     size,
	}
	s.Attachments = append(s.Attachments, att)
	return att.ID
}

// RemoveAttachment drops the attachment with the given ID. Returns false if
// no such attachment exists.
func (s *State) RemoveAttachment(id string) bool {
	for i := range s.Attachments {
		if s.Attachments[i].ID == id {
			s.Attachments = append(s.Attachments[:i], s.Attachments[i+1:]...)
			return true
		}
	}
	return false
}

// AppendHistory records a completed generation call. History is append-only;
// existing entries are never mutated.
func (s *State) AppendHistory(kind HistoryKind, prompt, response, strategyContext string) HistoryEntry {
	names := make([]string, 0, len(s.Attachments))
	for i := range s.Attachments {
		names = append(names, s.Attachments[i].Name)
	}
	entry := HistoryEntry{
		ID:              uuid.New().String(),
		Kind:            kind,
		Prompt:          prompt,
		Response:        response,
		AttachmentNames: names,
		StrategyContext: strategyContext,
		CreatedAt:       time.Now().UTC(),
	}
	s.History = append(s.History, entry)
	return entry
}

// HistorySnapshot returns a copy of the history so callers cannot mutate the
// append-only record.
func (s *State) HistorySnapshot() []HistoryEntry {
	out := make([]HistoryEntry, len(s.History))
	copy(out, s.History)
	return out
}

// Reset clears every field back to a fresh run, keeping a new ID.
func (s *State) Reset() {
	*s = *New()
}
