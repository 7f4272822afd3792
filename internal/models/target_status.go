// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/autobrr/trawl/internal/dbinterface"
	"github.com/autobrr/trawl/internal/indexer"
)

// maxErrorsPerTarget bounds the error history kept for each target.
const maxErrorsPerTarget = 50

// TargetStatus summarises the recorded health of one target.
type TargetStatus struct {
	TargetID            string        `json:"targetId"`
	TotalRequests       int64         `json:"totalRequests"`
	SuccessfulRequests  int64         `json:"successfulRequests"`
	ConsecutiveFailures int64         `json:"consecutiveFailures"`
	AvgLatencyMs        float64       `json:"avgLatencyMs"`
	LastLatencyMs       int64         `json:"lastLatencyMs"`
	LastSuccessAt       *time.Time    `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time    `json:"lastFailureAt,omitempty"`
	CooldownUntil       *time.Time    `json:"cooldownUntil,omitempty"`
	CooldownReason      string        `json:"cooldownReason,omitempty"`
	RecentErrors        []TargetError `json:"recentErrors"`
}

type TargetError struct {
	Kind       indexer.Kind `json:"kind"`
	Message    string       `json:"message"`
	OccurredAt time.Time    `json:"occurredAt"`
}

type TargetStatusStore struct {
	db  dbinterface.TxBeginner
	now func() time.Time
}

func NewTargetStatusStore(db dbinterface.TxBeginner) *TargetStatusStore {
	return &TargetStatusStore{db: db, now: time.Now}
}

// RecordLatency updates request counters and the running average latency.
func (s *TargetStatusStore) RecordLatency(ctx context.Context, targetID string, latency time.Duration, success bool) error {
	now := s.now().UTC()
	ms := latency.Milliseconds()

	var successAt, failureAt sql.NullTime
	successful, consecutive := 0, 1
	if success {
		successAt = sql.NullTime{Time: now, Valid: true}
		successful, consecutive = 1, 0
	} else {
		failureAt = sql.NullTime{Time: now, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO target_status (
			target_id, total_requests, successful_requests, consecutive_failures,
			avg_latency_ms, last_latency_ms, last_success_at, last_failure_at, updated_at
		) VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
			avg_latency_ms       = (avg_latency_ms * total_requests + excluded.last_latency_ms) / (total_requests + 1),
			total_requests       = total_requests + 1,
			successful_requests  = successful_requests + excluded.successful_requests,
			consecutive_failures = CASE WHEN excluded.consecutive_failures = 0 THEN 0 ELSE consecutive_failures + 1 END,
			last_latency_ms      = excluded.last_latency_ms,
			last_success_at      = COALESCE(excluded.last_success_at, last_success_at),
			last_failure_at      = COALESCE(excluded.last_failure_at, last_failure_at),
			updated_at           = excluded.updated_at
	`, targetID, successful, consecutive, float64(ms), ms, successAt, failureAt, now)
	return err
}

// RecordError appends to the target's error history, keeping the most
// recent entries only.
func (s *TargetStatusStore) RecordError(ctx context.Context, targetID string, kind indexer.Kind, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = string(kind)
	}

	return dbinterface.WithTx(ctx, s.db, func(tx dbinterface.Querier) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO target_errors (target_id, kind, message, occurred_at)
			VALUES (?, ?, ?, ?)
		`, targetID, string(kind), message, s.now().UTC()); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			DELETE FROM target_errors
			WHERE target_id = ? AND id NOT IN (
				SELECT id FROM target_errors
				WHERE target_id = ?
				ORDER BY id DESC
				LIMIT ?
			)
		`, targetID, targetID, maxErrorsPerTarget)
		return err
	})
}

// UpsertCooldown persists a rate-limit cooldown so it survives restarts.
func (s *TargetStatusStore) UpsertCooldown(ctx context.Context, targetID string, until time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO target_cooldowns (target_id, resume_at, reason, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
			resume_at  = excluded.resume_at,
			reason     = excluded.reason,
			updated_at = excluded.updated_at
	`, targetID, until.UTC(), strings.TrimSpace(reason), s.now().UTC())
	return err
}

func (s *TargetStatusStore) DeleteCooldown(ctx context.Context, targetID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM target_cooldowns WHERE target_id = ?`, targetID)
	return err
}

// ListCooldowns returns cooldowns that have not expired yet and removes the
// ones that have.
func (s *TargetStatusStore) ListCooldowns(ctx context.Context) (map[string]time.Time, error) {
	now := s.now()

	rows, err := s.db.QueryContext(ctx, `SELECT target_id, resume_at FROM target_cooldowns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cooldowns := make(map[string]time.Time)
	var expired []string
	for rows.Next() {
		var id string
		var until time.Time
		if err := rows.Scan(&id, &until); err != nil {
			return nil, err
		}
		if !until.After(now) {
			expired = append(expired, id)
			continue
		}
		cooldowns[id] = until
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, id := range expired {
		if err := s.DeleteCooldown(ctx, id); err != nil {
			return nil, err
		}
	}
	return cooldowns, nil
}

// Get returns the recorded health of a target. Targets that never reported
// yield a zero status rather than an error.
func (s *TargetStatusStore) Get(ctx context.Context, targetID string) (*TargetStatus, error) {
	status := &TargetStatus{TargetID: targetID, RecentErrors: []TargetError{}}

	var successAt, failureAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT total_requests, successful_requests, consecutive_failures,
		       avg_latency_ms, last_latency_ms, last_success_at, last_failure_at
		FROM target_status
		WHERE target_id = ?
	`, targetID).Scan(
		&status.TotalRequests, &status.SuccessfulRequests, &status.ConsecutiveFailures,
		&status.AvgLatencyMs, &status.LastLatencyMs, &successAt, &failureAt,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	status.LastSuccessAt = nullTimePtr(successAt)
	status.LastFailureAt = nullTimePtr(failureAt)

	var until time.Time
	var reason string
	err = s.db.QueryRowContext(ctx, `
		SELECT resume_at, reason FROM target_cooldowns WHERE target_id = ?
	`, targetID).Scan(&until, &reason)
	switch {
	case err == nil && until.After(s.now()):
		status.CooldownUntil = &until
		status.CooldownReason = reason
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, message, occurred_at
		FROM target_errors
		WHERE target_id = ?
		ORDER BY id DESC
		LIMIT 10
	`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e TargetError
		var kind string
		if err := rows.Scan(&kind, &e.Message, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = indexer.Kind(kind)
		status.RecentErrors = append(status.RecentErrors, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return status, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
