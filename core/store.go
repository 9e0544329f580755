// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"encoding/json"

	"github.com/adxyz/adpolicy/pkg/log"
	"github.com/adxyz/adpolicy/pkg/storage"
)

const (
	userStateKey    = "adpolicy:user"
	sessionStartKey = "adpolicy:session"
	contextKeyPfx   = "adpolicy:ctx:"
)

// FrequencyStateStore persists UserAdState, per-context state and the
// session-start marker. It holds no business rules. Reads never fail from
// the caller's perspective: missing or corrupt data falls back to defaults
// with a log line.
type FrequencyStateStore struct {
	db  storage.Database
	log log.Logger

	// OnError, when set, is invoked once per failed or corrupt storage
	// read/write. Used to feed an error counter without the store taking a
	// metrics dependency.
	OnError func()
}

// NewFrequencyStateStore creates a store over the given database.
func NewFrequencyStateStore(db storage.Database, logger log.Logger) *FrequencyStateStore {
	return &FrequencyStateStore{db: db, log: logger}
}

func (s *FrequencyStateStore) fail() {
	if s.OnError != nil {
		s.OnError()
	}
}

// LoadUserState reads the persisted user state, pruning impressions older
// than the retention window. Unknown fields in older payloads are dropped;
// missing fields default to zero values.
func (s *FrequencyStateStore) LoadUserState(nowMs int64) *UserAdState {
	state := NewUserAdState()

	raw, err := s.db.Get([]byte(userStateKey))
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("failed to load user ad state, using defaults", "err", err)
			s.fail()
		}
		return state
	}

	if err := json.Unmarshal(raw, state); err != nil {
		s.log.Warn("corrupt user ad state, using defaults", "err", err)
		s.fail()
		return NewUserAdState()
	}

	// JSON null slices come back nil; normalize so append-order invariants
	// hold.
	if state.Impressions == nil {
		state.Impressions = []Impression{}
	}
	if state.DismissedAds == nil {
		state.DismissedAds = []string{}
	}
	if state.ReportedAds == nil {
		state.ReportedAds = []string{}
	}
	if state.BlockedAdvertisers == nil {
		state.BlockedAdvertisers = []string{}
	}
	if state.RecentDismissals == nil {
		state.RecentDismissals = []int64{}
	}

	state.Prune(nowMs)
	return state
}

// SaveUserState writes the user state. Errors are logged and returned so
// explicit flush points can surface them; decision paths ignore them.
func (s *FrequencyStateStore) SaveUserState(state *UserAdState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		s.log.Error("failed to encode user ad state", "err", err)
		s.fail()
		return err
	}
	if err := s.db.Put([]byte(userStateKey), raw); err != nil {
		s.log.Warn("failed to persist user ad state", "err", err)
		s.fail()
		return err
	}
	return nil
}

// LoadSessionStart reads the session-start epoch in milliseconds. Zero means
// no session has been recorded.
func (s *FrequencyStateStore) LoadSessionStart() int64 {
	raw, err := s.db.Get([]byte(sessionStartKey))
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("failed to load session start", "err", err)
			s.fail()
		}
		return 0
	}
	var start int64
	if err := json.Unmarshal(raw, &start); err != nil {
		s.log.Warn("corrupt session start, ignoring", "err", err)
		s.fail()
		return 0
	}
	return start
}

// SaveSessionStart records the session-start epoch.
func (s *FrequencyStateStore) SaveSessionStart(startMs int64) error {
	raw, _ := json.Marshal(startMs)
	if err := s.db.Put([]byte(sessionStartKey), raw); err != nil {
		s.log.Warn("failed to persist session start", "err", err)
		s.fail()
		return err
	}
	return nil
}

// LoadContext reads the state for one screen context. State older than
// maxAgeMs (by context start) is treated as expired and reset.
func (s *FrequencyStateStore) LoadContext(key string, nowMs, maxAgeMs int64) *ContextState {
	state := &ContextState{}

	raw, err := s.db.Get([]byte(contextKeyPfx + key))
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("failed to load context state, using defaults", "context", key, "err", err)
			s.fail()
		}
		return state
	}

	if err := json.Unmarshal(raw, state); err != nil {
		s.log.Warn("corrupt context state, using defaults", "context", key, "err", err)
		s.fail()
		return &ContextState{}
	}

	if state.ContextStartTime > 0 && nowMs-state.ContextStartTime > maxAgeMs {
		return &ContextState{}
	}
	return state
}

// SaveContext writes the state for one screen context.
func (s *FrequencyStateStore) SaveContext(key string, state *ContextState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		s.log.Error("failed to encode context state", "context", key, "err", err)
		s.fail()
		return err
	}
	if err := s.db.Put([]byte(contextKeyPfx+key), raw); err != nil {
		s.log.Warn("failed to persist context state", "context", key, "err", err)
		s.fail()
		return err
	}
	return nil
}

// Reset removes the persisted user state and session marker. Context entries
// expire on their own.
func (s *FrequencyStateStore) Reset() error {
	if err := s.db.Delete([]byte(userStateKey)); err != nil {
		return err
	}
	return s.db.Delete([]byte(sessionStartKey))
}
