package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-provider/internal/util"
	"github.com/giantswarm/oidc-provider/storage"
)

// ============================================================
// CodeStore Implementation
// ============================================================

// Save stores a code with SET NX and a TTL matching its expiry.
func (s *Store) Save(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	data, err := json.Marshal(code)
	if err != nil {
		err = fmt.Errorf("failed to marshal authorization code: %w", err)
		return err
	}

	ttl := s.ttlUntil(code.ExpiresAt)
	cmd := s.client.B().Set().Key(s.codeKey(code.Code)).Value(string(data)).Nx().Ex(ttl).Build()

	if execErr := s.client.Do(ctx, cmd).Error(); execErr != nil {
		if isNilError(execErr) {
			err = storage.ErrCodeCollision
			return err
		}
		err = fmt.Errorf("failed to save authorization code: %w", execErr)
		return err
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, codeLogLength),
		"client_id", code.ClientID,
		"ttl", ttl)
	return nil
}

// Consume reads and deletes a code with GETDEL.
func (s *Store) Consume(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_code", err, startTime)
	}()

	data, execErr := s.client.Do(ctx, s.client.B().Getdel().Key(s.codeKey(code)).Build()).ToString()
	if execErr != nil {
		if isNilError(execErr) {
			err = storage.ErrCodeNotFound
			return nil, err
		}
		err = fmt.Errorf("failed to consume authorization code: %w", execErr)
		return nil, err
	}

	record, decodeErr := decodeRecord[storage.AuthorizationCode](data)
	if decodeErr != nil {
		err = decodeErr
		return nil, err
	}

	// key TTLs have second granularity
	if record.Expired(s.now()) {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength),
		"client_id", record.ClientID)
	return record, nil
}

// Sweep returns 0; Valkey expires code keys itself.
func (s *Store) Sweep(_ context.Context) (int, error) {
	return 0, nil
}
