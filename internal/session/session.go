package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/toolloop/internal/config"
	looperr "github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/llm"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
)

const (
	// DefaultMaxSessions is the number of sessions retained when no limit is set
	DefaultMaxSessions = 20
	// CurrentSessionLink is the name of the symlink to the current session
	CurrentSessionLink = "current"
)

// ErrNotFound is returned when no stored session matches an id.
var ErrNotFound = errors.New("session not found")

// Session is a saved conversation. Messages are stored healed.
type Session struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Model     string        `json:"model"`
	Messages  []llm.Message `json:"messages"`
	Usage     llm.Usage     `json:"usage"`
	Summary   string        `json:"summary,omitempty"`

	// Calibration is the estimated/actual input token ratio observed so far.
	Calibration float64 `json:"calibration,omitempty"`
}

// Cost returns the dollar cost of the session's accumulated usage.
func (s *Session) Cost() float64 {
	p, ok := llm.PricingFor(s.Model)
	if !ok {
		return 0
	}
	return p.Cost(s.Usage)
}

// SessionInfo contains summary information about a session for listing
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Model     string
	Preview   string // First user message or summary
	MsgCount  int
	Format    string
}

// Manager handles session persistence
type Manager struct {
	dir         string
	format      fileFormat
	maxSessions int
	current     *Session
	log         *logging.Logger
}

// NewManager creates a session manager storing files under cfg.Dir.
func NewManager(cfg config.SessionConfig, log *logging.Logger) (*Manager, error) {
	codec, err := CodecFor(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("session directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &Manager{
		dir:         cfg.Dir,
		format:      fileFormat{codec: codec, compressed: cfg.Compress},
		maxSessions: DefaultMaxSessions,
		log:         log.WithPrefix("session"),
	}, nil
}

// SetMaxSessions changes how many sessions are retained. Zero disables cleanup.
func (m *Manager) SetMaxSessions(n int) {
	m.maxSessions = n
}

// Dir returns the storage directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Save writes the current session with the given messages and model,
// starting a new session if none is active.
func (m *Manager) Save(messages []llm.Message, model string) error {
	if m.current == nil {
		if _, err := m.StartNew(); err != nil {
			return err
		}
	}

	m.current.Messages = llm.CloneMessages(messages)
	m.current.Model = model
	m.current.UpdatedAt = time.Now()

	if err := m.write(m.current); err != nil {
		return looperr.SessionSaveFailed(m.current.ID, err)
	}

	if err := m.updateCurrentLink(m.current.ID); err != nil {
		return looperr.SessionSaveFailed(m.current.ID, fmt.Errorf("update current link: %w", err))
	}

	if err := m.cleanupOldSessions(); err != nil {
		m.log.Warn("failed to cleanup old sessions", logging.Error(err))
	}

	m.log.Event(logging.EventSessionSave,
		logging.SessionID(m.current.ID),
		logging.MessageCount(len(messages)),
	)
	return nil
}

// AddUsage accumulates token usage on the current session. It is persisted
// by the next Save.
func (m *Manager) AddUsage(u llm.Usage) {
	if m.current == nil {
		return
	}
	m.current.Usage = m.current.Usage.Add(u)
}

// SetCalibration records the token estimate calibration ratio on the
// current session.
func (m *Manager) SetCalibration(ratio float64) {
	if m.current == nil {
		return
	}
	m.current.Calibration = ratio
}

// write encodes s in the manager's format and replaces any stored copy,
// including copies in other formats.
func (m *Manager) write(s *Session) error {
	data, err := m.format.encode(s)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.format.codec.Name(), err)
	}

	target := m.path(s.ID, m.format)
	tmp, err := os.CreateTemp(m.dir, "."+s.ID+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	for _, f := range formats() {
		if f != m.format {
			_ = os.Remove(m.path(s.ID, f))
		}
	}
	return nil
}

// Load loads a session by id or unique id prefix.
func (m *Manager) Load(id string) (*Session, error) {
	fullID, format, err := m.resolve(id)
	if err != nil {
		return nil, looperr.SessionLoadFailed(id, err)
	}

	session, err := m.read(fullID, format)
	if err != nil {
		return nil, looperr.SessionLoadFailed(fullID, err)
	}

	m.log.Event(logging.EventSessionLoad,
		logging.SessionID(session.ID),
		logging.MessageCount(len(session.Messages)),
	)
	return session, nil
}

func (m *Manager) read(id string, format fileFormat) (*Session, error) {
	data, err := os.ReadFile(m.path(id, format))
	if err != nil {
		return nil, err
	}

	var session Session
	if err := format.decode(data, &session); err != nil {
		return nil, fmt.Errorf("decode %s: %w", format.ext(), err)
	}
	if session.ID == "" {
		session.ID = id
	}
	return &session, nil
}

// resolve finds the stored file for an exact id, falling back to a unique
// prefix match.
func (m *Manager) resolve(id string) (string, fileFormat, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return "", fileFormat{}, fmt.Errorf("invalid session id %q", id)
	}

	entries, err := m.entries()
	if err != nil {
		return "", fileFormat{}, err
	}

	var matches []entry
	for _, e := range entries {
		if e.id == id {
			return e.id, e.format, nil
		}
		if strings.HasPrefix(e.id, id) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return "", fileFormat{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0].id, matches[0].format, nil
	default:
		return "", fileFormat{}, fmt.Errorf("session id prefix %q is ambiguous (%d matches)", id, len(matches))
	}
}

type entry struct {
	id     string
	format fileFormat
}

func (m *Manager) entries() ([]entry, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var out []entry
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == CurrentSessionLink || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		id, format, ok := parseFileName(de.Name())
		if !ok {
			continue
		}
		out = append(out, entry{id: id, format: format})
	}
	return out, nil
}

// List returns information about all saved sessions, most recent first.
func (m *Manager) List() ([]SessionInfo, error) {
	entries, err := m.entries()
	if err != nil {
		return nil, err
	}

	var sessions []SessionInfo
	for _, e := range entries {
		session, err := m.read(e.id, e.format)
		if err != nil {
			m.log.Debug("skipping unreadable session", logging.SessionID(e.id), logging.Error(err))
			continue
		}

		info := SessionInfo{
			ID:        session.ID,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
			Model:     session.Model,
			MsgCount:  len(session.Messages),
			Format:    strings.TrimPrefix(e.format.ext(), "."),
		}

		if session.Summary != "" {
			info.Preview = truncate(session.Summary, 50)
		} else {
			for _, msg := range session.Messages {
				if msg.Role == llm.RoleUser {
					if text := msg.Text(); text != "" {
						info.Preview = truncate(text, 50)
						break
					}
				}
			}
		}

		sessions = append(sessions, info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// GetCurrent returns the session the current link points to, or nil.
func (m *Manager) GetCurrent() (*Session, error) {
	linkPath := filepath.Join(m.dir, CurrentSessionLink)

	target, err := os.Readlink(linkPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read current session link: %w", err)
	}

	id, format, ok := parseFileName(filepath.Base(target))
	if !ok {
		_ = os.Remove(linkPath)
		return nil, nil
	}

	session, err := m.read(id, format)
	if err != nil {
		// Dangling link
		_ = os.Remove(linkPath)
		return nil, nil
	}
	return session, nil
}

// StartNew creates a new in-memory session with a fresh id.
func (m *Manager) StartNew() (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:        generateID(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []llm.Message{},
	}

	m.current = session
	m.log.Event(logging.EventSessionStart, logging.SessionID(session.ID))
	return session, nil
}

// Delete removes a session by id or unique id prefix.
func (m *Manager) Delete(id string) error {
	fullID, format, err := m.resolve(id)
	if err != nil {
		return err
	}

	if err := os.Remove(m.path(fullID, format)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	linkPath := filepath.Join(m.dir, CurrentSessionLink)
	if target, err := os.Readlink(linkPath); err == nil {
		if targetID, _, ok := parseFileName(filepath.Base(target)); ok && targetID == fullID {
			_ = os.Remove(linkPath)
		}
	}

	if m.current != nil && m.current.ID == fullID {
		m.current = nil
	}
	return nil
}

// SetCurrent sets the current session (used when resuming)
func (m *Manager) SetCurrent(session *Session) {
	m.current = session
}

// GetCurrentSession returns the currently active session (in memory)
func (m *Manager) GetCurrentSession() *Session {
	return m.current
}

func (m *Manager) path(id string, format fileFormat) string {
	return filepath.Join(m.dir, id+format.ext())
}

func (m *Manager) updateCurrentLink(id string) error {
	linkPath := filepath.Join(m.dir, CurrentSessionLink)
	_ = os.Remove(linkPath)
	return os.Symlink(id+m.format.ext(), linkPath)
}

// cleanupOldSessions removes the least recently updated sessions beyond the limit.
func (m *Manager) cleanupOldSessions() error {
	if m.maxSessions <= 0 {
		return nil
	}

	sessions, err := m.List()
	if err != nil {
		return err
	}
	if len(sessions) <= m.maxSessions {
		return nil
	}

	for _, info := range sessions[m.maxSessions:] {
		if m.current != nil && info.ID == m.current.ID {
			continue
		}
		for _, f := range formats() {
			_ = os.Remove(m.path(info.ID, f))
		}
	}
	return nil
}

func generateID() string {
	return uuid.NewString()
}

// truncate shortens s to maxLen runes for a one-line preview.
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")

	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// FormatRelativeTime formats a time as a human-readable relative string
func FormatRelativeTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		if t.Year() == now.Year() {
			return t.Format("Jan 2")
		}
		return t.Format("Jan 2, 2006")
	}
}
