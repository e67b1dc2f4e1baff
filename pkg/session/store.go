package session

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const availabilityKey = "__storage_test__"

// Store owns the session records for one domain. All methods are safe for
// concurrent use and never return storage errors; an unusable storage makes
// them behave as if nothing was stored.
type Store struct {
	storage Storage
	domain  string
	prefix  string
	now     func() time.Time
	newID   func() string

	mu sync.Mutex
}

type Option func(*Store)

// WithDomain overrides the domain component of the storage key.
func WithDomain(domain string) Option {
	return func(s *Store) {
		if domain = strings.TrimSpace(domain); domain != "" {
			s.domain = domain
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		domain:  defaultDomain(),
		prefix:  KeyPrefix,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func defaultDomain() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

func (s *Store) Domain() string {
	if s == nil {
		return ""
	}
	return s.domain
}

func (s *Store) key(flowID string) string {
	return StorageKey(s.prefix, s.domain, flowID)
}

// GetOrCreateSession returns the live session for flowID, creating one when
// none exists or the stored one expired. A non-empty explicitID always
// starts a new session with that id.
func (s *Store) GetOrCreateSession(flowID, explicitID string, cfg Config) Result {
	if s == nil {
		return Result{SessionID: uuid.NewString(), Messages: []Message{}, IsNewSession: true}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if explicitID != "" {
		sess := s.createLocked(flowID, explicitID, cfg)
		return Result{SessionID: sess.SessionID, Messages: []Message{}, IsNewSession: true}
	}

	existing := s.getLocked(flowID)
	if existing != nil && !s.isExpired(existing, cfg) {
		existing.LastActiveAt = s.now().UnixMilli()
		s.saveLocked(existing)
		return Result{
			SessionID:    existing.SessionID,
			Messages:     cloneMessages(existing.Messages),
			IsNewSession: false,
		}
	}
	if existing != nil {
		log.Debug().Str("component", "session").Str("flow_id", flowID).Str("session_id", existing.SessionID).Msg("stored session expired, replacing")
		s.clearLocked(flowID)
	}

	sess := s.createLocked(flowID, "", cfg)
	return Result{SessionID: sess.SessionID, Messages: []Message{}, IsNewSession: true}
}

// GetStoredSession loads the record for flowID. Corrupt records are removed
// and reported as absent.
func (s *Store) GetStoredSession(flowID string) *Session {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(flowID)
}

// SaveSession writes sess under its own domain and flow.
func (s *Store) SaveSession(sess *Session) bool {
	if s == nil || sess == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(sess)
}

// CreateSession persists a fresh session. An empty providedID gets a
// generated one. The session is returned even when it could not be stored.
func (s *Store) CreateSession(flowID, providedID string, cfg Config) *Session {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(flowID, providedID, cfg)
}

// UpdateMessages replaces the message list of the stored session. It fails
// when no session exists for flowID.
func (s *Store) UpdateMessages(flowID string, messages []Message) bool {
	return s.mutate(flowID, func(sess *Session) {
		sess.Messages = cloneMessages(messages)
	})
}

// UpdateSessionID records a server-assigned session id. It fails when no
// session exists for flowID.
func (s *Store) UpdateSessionID(flowID, newID string) bool {
	return s.mutate(flowID, func(sess *Session) {
		sess.SessionID = newID
	})
}

func (s *Store) mutate(flowID string, fn func(*Session)) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getLocked(flowID)
	if sess == nil {
		return false
	}
	fn(sess)
	sess.LastActiveAt = s.now().UnixMilli()
	return s.saveLocked(sess)
}

// ClearSession removes the stored session for flowID, if any.
func (s *Store) ClearSession(flowID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(flowID)
}

// IsSessionExpired reports whether sess is past its absolute or idle expiry.
func (s *Store) IsSessionExpired(sess *Session, cfg Config) bool {
	if s == nil {
		return IsExpired(sess, cfg, time.Now())
	}
	return s.isExpired(sess, cfg)
}

func (s *Store) isExpired(sess *Session, cfg Config) bool {
	return IsExpired(sess, cfg, s.now())
}

// IsExpired is the clock-explicit form of Store.IsSessionExpired. A nil
// session counts as expired.
func IsExpired(sess *Session, cfg Config, now time.Time) bool {
	if sess == nil {
		return true
	}
	nowMs := now.UnixMilli()
	absolute := sess.ExpiresAt
	if absolute == 0 {
		absolute = sess.CreatedAt + cfg.expiry().Milliseconds()
	}
	if nowMs > absolute {
		return true
	}
	return nowMs > sess.LastActiveAt+cfg.idleExpiry().Milliseconds()
}

// CleanupExpiredSessions removes every record under the store prefix that is
// expired or unreadable, across all domains and flows. It returns the number
// of removed records.
func (s *Store) CleanupExpiredSessions(cfg Config) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available() {
		return 0
	}
	keys, err := s.storage.Keys(s.prefix + "-")
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("failed to list stored sessions")
		return 0
	}
	removed := 0
	for _, k := range keys {
		raw, ok, err := s.storage.Get(k)
		if err != nil || !ok || raw == "" {
			continue
		}
		sess, err := decodeSession(raw)
		if err == nil && !s.isExpired(sess, cfg) {
			continue
		}
		if err := s.storage.Remove(k); err != nil {
			log.Warn().Err(err).Str("component", "session").Str("key", k).Msg("failed to remove expired session")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Debug().Str("component", "session").Int("removed", removed).Msg("cleaned up expired sessions")
	}
	return removed
}

// StoredSession is one readable record found by ListSessions.
type StoredSession struct {
	Key     string
	Session *Session
	Expired bool
}

// ListSessions returns every readable record under the store prefix,
// across all domains and flows, ordered by key. Unreadable records are
// skipped and left for CleanupExpiredSessions.
func (s *Store) ListSessions(cfg Config) []StoredSession {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available() {
		return nil
	}
	keys, err := s.storage.Keys(s.prefix + "-")
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("failed to list stored sessions")
		return nil
	}
	sort.Strings(keys)
	ret := make([]StoredSession, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.storage.Get(k)
		if err != nil || !ok || raw == "" {
			continue
		}
		sess, err := decodeSession(raw)
		if err != nil {
			log.Debug().Err(err).Str("component", "session").Str("key", k).Msg("skipping unreadable session")
			continue
		}
		ret = append(ret, StoredSession{Key: k, Session: sess, Expired: s.isExpired(sess, cfg)})
	}
	return ret
}

func (s *Store) createLocked(flowID, providedID string, cfg Config) *Session {
	now := s.now().UnixMilli()
	id := providedID
	if id == "" {
		id = s.newID()
	}
	sess := &Session{
		SessionID:    id,
		Messages:     []Message{},
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now + cfg.expiry().Milliseconds(),
		Domain:       s.domain,
		FlowID:       flowID,
	}
	s.saveLocked(sess)
	return sess
}

func (s *Store) getLocked(flowID string) *Session {
	if !s.available() {
		log.Warn().Str("component", "session").Msg("session storage is not available")
		return nil
	}
	raw, ok, err := s.storage.Get(s.key(flowID))
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("flow_id", flowID).Msg("failed to read stored session")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	sess, err := decodeSession(raw)
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("flow_id", flowID).Msg("invalid stored session, clearing")
		s.clearLocked(flowID)
		return nil
	}
	return sess
}

func (s *Store) saveLocked(sess *Session) bool {
	if !s.available() {
		return false
	}
	domain := sess.Domain
	if domain == "" {
		domain = s.domain
	}
	b, err := json.Marshal(sess)
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("failed to encode session")
		return false
	}
	if err := s.storage.Set(StorageKey(s.prefix, domain, sess.FlowID), string(b)); err != nil {
		log.Warn().Err(err).Str("component", "session").Str("flow_id", sess.FlowID).Msg("failed to save session")
		return false
	}
	return true
}

func (s *Store) clearLocked(flowID string) {
	if !s.available() {
		return
	}
	if err := s.storage.Remove(s.key(flowID)); err != nil {
		log.Warn().Err(err).Str("component", "session").Str("flow_id", flowID).Msg("failed to clear session")
	}
}

func (s *Store) available() bool {
	if s.storage == nil {
		return false
	}
	if err := s.storage.Set(availabilityKey, availabilityKey); err != nil {
		return false
	}
	return s.storage.Remove(availabilityKey) == nil
}

// storedRecord mirrors Session with optional fields so missing values can
// be told apart from zero values.
type storedRecord struct {
	SessionID    *string         `json:"sessionId"`
	Messages     json.RawMessage `json:"messages"`
	CreatedAt    *int64          `json:"createdAt"`
	LastActiveAt int64           `json:"lastActiveAt"`
	ExpiresAt    int64           `json:"expiresAt"`
	Domain       string          `json:"domain"`
	FlowID       string          `json:"flowId"`
}

var errCorruptRecord = errors.New("corrupt session record")

func decodeSession(raw string) (*Session, error) {
	var rec storedRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if rec.SessionID == nil || *rec.SessionID == "" {
		return nil, errors.Wrap(errCorruptRecord, "missing sessionId")
	}
	if rec.CreatedAt == nil || *rec.CreatedAt == 0 {
		return nil, errors.Wrap(errCorruptRecord, "missing createdAt")
	}
	msgs := bytes.TrimSpace(rec.Messages)
	if len(msgs) == 0 || msgs[0] != '[' {
		return nil, errors.Wrap(errCorruptRecord, "messages is not an array")
	}
	var messages []Message
	if err := json.Unmarshal(msgs, &messages); err != nil {
		return nil, errors.Wrap(err, "decode session messages")
	}
	return &Session{
		SessionID:    *rec.SessionID,
		Messages:     messages,
		CreatedAt:    *rec.CreatedAt,
		LastActiveAt: rec.LastActiveAt,
		ExpiresAt:    rec.ExpiresAt,
		Domain:       rec.Domain,
		FlowID:       rec.FlowID,
	}, nil
}
