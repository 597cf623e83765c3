package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-provider/storage"
)

// ============================================================
// SessionStore Implementation
// ============================================================

// SaveSession stores a session with a TTL matching its expiry
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	ctx, span := s.startStorageSpan(ctx, "save_session")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_session", err, startTime)
	}()

	if session == nil || session.ID == "" {
		err = fmt.Errorf("invalid session")
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		err = fmt.Errorf("failed to marshal session: %w", err)
		return err
	}

	ttl := s.ttlUntil(session.ExpiresAt)
	if execErr := s.client.Do(ctx,
		s.client.B().Set().Key(s.sessionKey(session.ID)).Value(string(data)).Ex(ttl).Build(),
	).Error(); execErr != nil {
		err = fmt.Errorf("failed to save session: %w", execErr)
		return err
	}

	return nil
}

// GetSession returns a live session
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	ctx, span := s.startStorageSpan(ctx, "get_session")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_session", err, startTime)
	}()

	data, execErr := s.client.Do(ctx, s.client.B().Get().Key(s.sessionKey(id)).Build()).ToString()
	if execErr != nil {
		if isNilError(execErr) {
			err = storage.ErrSessionNotFound
			return nil, err
		}
		err = fmt.Errorf("failed to get session: %w", execErr)
		return nil, err
	}

	session, decodeErr := decodeRecord[storage.Session](data)
	if decodeErr != nil {
		err = decodeErr
		return nil, err
	}
	if session.Expired(s.now()) {
		err = storage.ErrSessionNotFound
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_session")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_session", err, startTime)
	}()

	if execErr := s.client.Do(ctx, s.client.B().Del().Key(s.sessionKey(id)).Build()).Error(); execErr != nil {
		err = fmt.Errorf("failed to delete session: %w", execErr)
		return err
	}
	return nil
}
