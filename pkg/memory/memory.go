// Package memory implements the session-scoped shared store used by the
// scheduler and the per-node executors. It is the only channel through which
// those components exchange state: status tables, step verdicts, query
// results, code snippets, and per-agent conversation logs all live here.
//
// Every operation is atomic with respect to other operations on the same
// store. UpdateByKey in particular is a single atomic replace, so the
// scheduler's status writes and an executor's verdict write never interleave
// a read-modify-write on the same key.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownAgent is returned for context operations on an unregistered agent.
var ErrUnknownAgent = errors.New("memory: unknown agent")

// summaryThreshold is the payload size above which string payloads get a
// generated summary attached at storage time.
const summaryThreshold = 1000

// ChatMessage is the conversational payload stored in agent context logs.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextEntry is one element of an agent's audit trail.
type ContextEntry struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Record is the stored form of a memory entry. The payload is kept
// JSON-encoded so that reads hand out copies, never aliases.
type Record struct {
	ID          string
	DataType    string
	AgentID     string
	Description string
	Metadata    map[string]string
	Timestamp   time.Time
	Summary     string

	payload json.RawMessage
	isTable bool
}

// Snippet is an immutable, id-addressed blob of executable text (SQL).
type Snippet struct {
	ID          string
	Code        string
	PluginID    string
	TSGName     string
	Parameters  map[string]string
	Description string
	Timestamp   time.Time
}

type agentLog struct {
	name    string
	created time.Time
	entries []ContextEntry
}

// Service is the process-wide store for one session.
type Service struct {
	sessionID string

	mu       sync.RWMutex
	agents   map[string]*agentLog
	records  []*Record // insertion order, for ListData
	byID     map[string]*Record
	tables   map[string]*Table
	snippets map[string]*Snippet
}

// NewService creates an empty store for the given session.
func NewService(sessionID string) *Service {
	return &Service{
		sessionID: sessionID,
		agents:    make(map[string]*agentLog),
		byID:      make(map[string]*Record),
		tables:    make(map[string]*Table),
		snippets:  make(map[string]*Snippet),
	}
}

// SessionID returns the session this store belongs to.
func (s *Service) SessionID() string { return s.sessionID }

// RegisterAgent mints a new agent id and creates an empty context log.
func (s *Service) RegisterAgent(name string) string {
	return s.RegisterAgentWithID(name, uuid.NewString())
}

// RegisterAgentWithID registers an agent under a caller-provided id. Used by
// the scheduler, which assigns executor ids at dispatch time.
func (s *Service) RegisterAgentWithID(name, agentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID] = &agentLog{name: name, created: time.Now()}
	slog.Debug("agent registered", "session_id", s.sessionID, "agent", name, "agent_id", agentID)
	return agentID
}

// AddContext appends an entry to the agent's context log. The value may be
// any JSON-compatible payload; chat messages are the common case.
func (s *Service) AddContext(agentID, key string, value any, description string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode context value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	log.entries = append(log.entries, ContextEntry{
		Key:         key,
		Value:       raw,
		Description: description,
		Timestamp:   time.Now(),
	})
	return nil
}

// AgentContext returns the agent's full context log, most recent last.
// A positive limit returns only the last limit entries.
func (s *Service) AgentContext(agentID string, limit int) ([]ContextEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	entries := log.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]ContextEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// AgentMessages returns only the context entries whose value carries both a
// role and a content field, decoded as chat messages.
func (s *Service) AgentMessages(agentID string, limit int) ([]ChatMessage, error) {
	entries, err := s.AgentContext(agentID, 0)
	if err != nil {
		return nil, err
	}
	var msgs []ChatMessage
	for _, e := range entries {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(e.Value, &probe); err != nil {
			continue
		}
		if _, ok := probe["role"]; !ok {
			continue
		}
		if _, ok := probe["content"]; !ok {
			continue
		}
		var msg ChatMessage
		if err := json.Unmarshal(e.Value, &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// AddDataInput carries the arguments of AddData.
type AddDataInput struct {
	Payload     any
	DataType    string
	AgentID     string
	Metadata    map[string]string
	Description string
}

// AddData stores a record and returns its id. Tabular payloads (*Table) are
// stored in a separate tabular collection keyed by the same id; everything
// else is stored inline as JSON.
func (s *Service) AddData(in AddDataInput) (string, error) {
	rec := &Record{
		ID:          uuid.NewString(),
		DataType:    in.DataType,
		AgentID:     in.AgentID,
		Description: in.Description,
		Metadata:    cloneMeta(in.Metadata),
		Timestamp:   time.Now(),
	}

	if tbl, ok := in.Payload.(*Table); ok {
		rec.isTable = true
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tables[rec.ID] = tbl.Clone()
		s.records = append(s.records, rec)
		s.byID[rec.ID] = rec
		return rec.ID, nil
	}

	raw, err := json.Marshal(in.Payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	rec.payload = raw
	if str, ok := in.Payload.(string); ok && len(str) > summaryThreshold {
		rec.Summary = summarizeText(str)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.byID[rec.ID] = rec
	return rec.ID, nil
}

// Data decodes the payload of the record with the given id into out.
// Tabular records require out to be of type **Table.
func (s *Service) Data(id string, out any) (bool, error) {
	s.mu.RLock()
	rec, ok := s.byID[id]
	if !ok {
		s.mu.RUnlock()
		return false, nil
	}
	if rec.isTable {
		tbl := s.tables[id].Clone()
		s.mu.RUnlock()
		dst, ok := out.(**Table)
		if !ok {
			return false, fmt.Errorf("record %s is tabular, pass a **Table target", id)
		}
		*dst = tbl
		return true, nil
	}
	raw := rec.payload
	s.mu.RUnlock()
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode payload of %s: %w", id, err)
	}
	return true, nil
}

// DataTable returns the table stored under id, or false when the record does
// not exist or is not tabular.
func (s *Service) DataTable(id string) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok || !rec.isTable {
		return nil, false
	}
	return s.tables[id].Clone(), true
}

// RecordInfo returns a copy of the record metadata (without payload) for id.
func (s *Service) RecordInfo(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return recordInfo(rec), true
}

// IsTable reports whether the record with the given id holds tabular data.
func (r Record) IsTable() bool { return r.isTable }

// GetByKey decodes the payload of the record whose metadata key matches into
// out. A missing key is not an error: found is false.
func (s *Service) GetByKey(key string, out any) (bool, error) {
	s.mu.RLock()
	rec := s.findByKeyLocked(key)
	if rec == nil {
		s.mu.RUnlock()
		return false, nil
	}
	id := rec.ID
	isTable := rec.isTable
	var raw json.RawMessage
	var tbl *Table
	if isTable {
		tbl = s.tables[id].Clone()
	} else {
		raw = rec.payload
	}
	s.mu.RUnlock()

	if isTable {
		dst, ok := out.(**Table)
		if !ok {
			return false, fmt.Errorf("record under key %q is tabular, pass a **Table target", key)
		}
		*dst = tbl
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode payload under key %q: %w", key, err)
	}
	return true, nil
}

// UpdateByKey atomically replaces the record matching the metadata key,
// creating it when absent. DataType and description fall back to the values
// of the replaced record.
func (s *Service) UpdateByKey(key string, payload any, dataType, description string) (string, error) {
	var raw json.RawMessage
	var tbl *Table
	if t, ok := payload.(*Table); ok {
		tbl = t.Clone()
	} else {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findByKeyLocked(key); existing != nil {
		if dataType == "" {
			dataType = existing.DataType
		}
		if description == "" {
			description = existing.Description
		}
		s.removeByKeyLocked(key)
	} else {
		if dataType == "" {
			dataType = "new_data"
		}
		if description == "" {
			description = fmt.Sprintf("Data with key: %s", key)
		}
	}

	rec := &Record{
		ID:          uuid.NewString(),
		DataType:    dataType,
		Description: description,
		Metadata:    map[string]string{"key": key},
		Timestamp:   time.Now(),
	}
	if tbl != nil {
		rec.isTable = true
		s.tables[rec.ID] = tbl
	} else {
		rec.payload = raw
		var str string
		if err := json.Unmarshal(raw, &str); err == nil && len(str) > summaryThreshold {
			rec.Summary = summarizeText(str)
		}
	}
	s.records = append(s.records, rec)
	s.byID[rec.ID] = rec
	return rec.ID, nil
}

// StoreSnippet stores an immutable code snippet and returns its id.
func (s *Service) StoreSnippet(code, pluginID, tsgName string, parameters map[string]string, description string) string {
	sn := &Snippet{
		ID:          uuid.NewString(),
		Code:        code,
		PluginID:    pluginID,
		TSGName:     tsgName,
		Parameters:  cloneMeta(parameters),
		Description: description,
		Timestamp:   time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snippets[sn.ID] = sn
	slog.Debug("snippet stored", "session_id", s.sessionID, "snippet_id", sn.ID, "plugin_id", pluginID)
	return sn.ID
}

// GetSnippet returns the code stored under the snippet id.
func (s *Service) GetSnippet(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.snippets[id]
	if !ok {
		return "", false
	}
	return sn.Code, true
}

// findByKeyLocked returns the first record whose metadata key matches.
// Callers hold s.mu.
func (s *Service) findByKeyLocked(key string) *Record {
	for _, rec := range s.records {
		if rec.Metadata["key"] == key {
			return rec
		}
	}
	return nil
}

// removeByKeyLocked drops every record whose metadata key matches.
// Callers hold s.mu.
func (s *Service) removeByKeyLocked(key string) {
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Metadata["key"] == key {
			delete(s.byID, rec.ID)
			delete(s.tables, rec.ID)
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
}

func recordInfo(rec *Record) Record {
	return Record{
		ID:          rec.ID,
		DataType:    rec.DataType,
		AgentID:     rec.AgentID,
		Description: rec.Description,
		Metadata:    cloneMeta(rec.Metadata),
		Timestamp:   rec.Timestamp,
		Summary:     rec.Summary,
		isTable:     rec.isTable,
	}
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
