package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	bolt "go.etcd.io/bbolt"
)

// Session is a cached, validated credential as the simulated SDK keeps it.
type Session struct {
	ID          string    `json:"id"`
	Token       string    `json:"token"`
	AddedAt     time.Time `json:"addedAt"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions. List returns them ordered by AddedAt.
type SessionStore interface {
	Get(id string) (Session, error)
	FindByToken(token string) (Session, error)
	Put(s Session) error
	Delete(id string) error
	DeleteAll() error
	List() ([]Session, error)
	Close() error
}

// OpenSessionStore returns a bolt store at path, or a memory store when path is empty.
func OpenSessionStore(path string) (SessionStore, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	return OpenBoltStore(path)
}

type memoryStore struct {
	sessions *xsync.Map[string, Session]
}

func NewMemoryStore() SessionStore {
	return &memoryStore{sessions: xsync.NewMap[string, Session]()}
}

func (m *memoryStore) Get(id string) (Session, error) {
	s, ok := m.sessions.Load(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *memoryStore) FindByToken(token string) (Session, error) {
	var found Session
	ok := false
	m.sessions.Range(func(_ string, s Session) bool {
		if s.Token == token {
			found, ok = s, true
			return false
		}
		return true
	})
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return found, nil
}

func (m *memoryStore) Put(s Session) error {
	m.sessions.Store(s.ID, s)
	return nil
}

func (m *memoryStore) Delete(id string) error {
	m.sessions.Delete(id)
	return nil
}

func (m *memoryStore) DeleteAll() error {
	m.sessions.Clear()
	return nil
}

func (m *memoryStore) List() ([]Session, error) {
	out := make([]Session, 0, m.sessions.Size())
	m.sessions.Range(func(_ string, s Session) bool {
		out = append(out, s)
		return true
	})
	sortSessions(out)
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

var sessionsBucket = []byte("sessions")

type boltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) a bbolt file holding one JSON value per
// session in the "sessions" bucket.
func OpenBoltStore(path string) (SessionStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(id string) (Session, error) {
	var out Session
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(id))
		if v == nil {
			return ErrSessionNotFound
		}
		return json.Unmarshal(v, &out)
	})
	return out, err
}

func (s *boltStore) FindByToken(token string) (Session, error) {
	all, err := s.List()
	if err != nil {
		return Session{}, err
	}
	for _, sess := range all {
		if sess.Token == token {
			return sess, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (s *boltStore) Put(sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(sess.ID), data)
	})
}

func (s *boltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (s *boltStore) DeleteAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(sessionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(sessionsBucket)
		return err
	})
}

func (s *boltStore) List() ([]Session, error) {
	var out []Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			out = append(out, sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func sortSessions(ss []Session) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].AddedAt.Equal(ss[j].AddedAt) {
			return ss[i].ID < ss[j].ID
		}
		return ss[i].AddedAt.Before(ss[j].AddedAt)
	})
}
