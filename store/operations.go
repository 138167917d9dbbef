// Copyright 2016 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertSTHDedup inserts sth for logID, or, if an STH with the same
// (log_id, tree_size, tree_hash, sth_timestamp) already exists, returns its
// existing id. Never creates a duplicate row. A tree_size that does not fit
// in a signed 64-bit column (> 2^63-1, observable here as a negative value
// once the caller's uint64 has wrapped) is rejected with
// ErrTreeSizeTooLarge before any row is written.
func (s *Store) InsertSTHDedup(ctx context.Context, logID LogID, sth STH) (id int64, err error) {
	if sth.TreeSize < 0 {
		return 0, ErrTreeSizeTooLarge
	}
	err = s.RunSerializable(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sth (log_id, tree_hash, tree_size, sth_timestamp, received_time, signature, checked_consistent_with_latest)
			VALUES (?, ?, ?, ?, ?, ?, FALSE)
			ON DUPLICATE KEY UPDATE id = id`,
			logID[:], sth.TreeHash[:], sth.TreeSize, sth.STHTimestamp, time.Now().UTC(), sth.Signature)
		if err != nil {
			return fmt.Errorf("insert sth: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			lastID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert sth: last insert id: %w", err)
			}
			id = lastID
			return nil
		}

		// Row already existed (ON DUPLICATE KEY UPDATE matched): look it up.
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM sth WHERE log_id = ? AND tree_size = ? AND tree_hash = ? AND sth_timestamp = ?`,
			logID[:], sth.TreeSize, sth.TreeHash[:], sth.STHTimestamp)
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("select existing sth id: %w", err)
		}
		return nil
	})
	return id, err
}

// GetLog fetches a log by id, or ErrNotFound.
func (s *Store) GetLog(ctx context.Context, logID LogID) (Log, error) {
	var l Log
	err := s.RunSerializable(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT log_id, endpoint_url, name, public_key, monitoring, latest_sth_id, last_sth_error
			FROM ctlogs WHERE log_id = ?`, logID[:])
		var ls, le sql.NullInt64
		var errStr sql.NullString
		var rawID []byte
		if err := row.Scan(&rawID, &l.EndpointURL, &l.Name, &l.PublicKey, &l.Monitoring, &ls, &errStr); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("get log: %w", err)
		}
		copy(l.LogID[:], rawID)
		if ls.Valid {
			v := ls.Int64
			l.LatestSTHID = &v
		}
		if errStr.Valid {
			v := errStr.String
			l.LastSTHError = &v
		}
		_ = le
		return nil
	})
	return l, err
}

// ListActiveLogs returns every log with monitoring = true, the set the
// Supervisor spawns Workers for on start.
func (s *Store) ListActiveLogs(ctx context.Context) ([]Log, error) {
	var logs []Log
	err := s.RunSerializable(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT log_id, endpoint_url, name, public_key, monitoring, latest_sth_id, last_sth_error
			FROM ctlogs WHERE monitoring = TRUE`)
		if err != nil {
			return fmt.Errorf("list active logs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var l Log
			var rawID []byte
			var ls sql.NullInt64
			var errStr sql.NullString
			if err := rows.Scan(&rawID, &l.EndpointURL, &l.Name, &l.PublicKey, &l.Monitoring, &ls, &errStr); err != nil {
				return fmt.Errorf("scan log: %w", err)
			}
			copy(l.LogID[:], rawID)
			if ls.Valid {
				v := ls.Int64
				l.LatestSTHID = &v
			}
			if errStr.Valid {
				v := errStr.String
				l.LastSTHError = &v
			}
			logs = append(logs, l)
		}
		return rows.Err()
	})
	return logs, err
}

// SetLastSTHError overwrites the log's last_sth_error field, recording a
// transient poll failure.
func (s *Store) SetLastSTHError(ctx context.Context, logID LogID, reason string) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE ctlogs SET last_sth_error = ? WHERE log_id = ?`, reason, logID[:])
		return err
	})
}

// ClearLastSTHError clears the log's last_sth_error field on a successful
// poll.
func (s *Store) ClearLastSTHError(ctx context.Context, logID LogID) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE ctlogs SET last_sth_error = NULL WHERE log_id = ?`, logID[:])
		return err
	})
}

// AdvanceLatestSTH transactionally marks newSTHID consistent and advances the
// log's latest_sth_id to it. Both writes happen in the same transaction, so
// the invariant "latest_sth_id only ever references a checked-consistent
// STH" never has an observable gap.
func (s *Store) AdvanceLatestSTH(ctx context.Context, logID LogID, newSTHID int64) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sth SET checked_consistent_with_latest = TRUE WHERE id = ?`, newSTHID); err != nil {
			return fmt.Errorf("advance: flip sth: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE ctlogs SET latest_sth_id = ? WHERE log_id = ?`, newSTHID, logID[:]); err != nil {
			return fmt.Errorf("advance: set latest_sth_id: %w", err)
		}
		return nil
	})
}

// SetSTHConsistent flips a single STH's checked_consistent_with_latest flag,
// used by the sweep for STHs other than the one the pointer is advancing to.
func (s *Store) SetSTHConsistent(ctx context.Context, sthID int64) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE sth SET checked_consistent_with_latest = TRUE WHERE id = ?`, sthID)
		return err
	})
}

// OutstandingSTHs returns every STH for logID with
// checked_consistent_with_latest = false and tree_size <= latestTreeSize —
// the sweep's candidate set.
func (s *Store) OutstandingSTHs(ctx context.Context, logID LogID, latestTreeSize int64) ([]STH, error) {
	var out []STH
	err := s.RunSerializable(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, tree_hash, tree_size, sth_timestamp, received_time, signature, checked_consistent_with_latest
			FROM sth WHERE log_id = ? AND checked_consistent_with_latest = FALSE AND tree_size <= ?`,
			logID[:], latestTreeSize)
		if err != nil {
			return fmt.Errorf("outstanding sths: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sth := STH{LogID: logID}
			var hash []byte
			if err := rows.Scan(&sth.ID, &hash, &sth.TreeSize, &sth.STHTimestamp, &sth.ReceivedTime, &sth.Signature, &sth.CheckedConsistentWithLatest); err != nil {
				return fmt.Errorf("scan outstanding sth: %w", err)
			}
			copy(sth.TreeHash[:], hash)
			out = append(out, sth)
		}
		return rows.Err()
	})
	return out, err
}

// ListActiveLogSummaries returns every monitoring=true log, ordered by name,
// together with its latest STH if it has one yet. Backs the Read API's
// list_active_logs operation (spec.md §4.5); a single join query rather
// than N+1 round-trips per log.
func (s *Store) ListActiveLogSummaries(ctx context.Context) ([]LogSummary, error) {
	var out []LogSummary
	err := s.RunSerializable(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT l.log_id, l.endpoint_url, l.name, l.public_key, l.monitoring, l.latest_sth_id, l.last_sth_error,
			       s.id, s.tree_hash, s.tree_size, s.sth_timestamp, s.received_time, s.signature, s.checked_consistent_with_latest
			FROM ctlogs l
			LEFT JOIN sth s ON s.id = l.latest_sth_id
			WHERE l.monitoring = TRUE
			ORDER BY l.name ASC`)
		if err != nil {
			return fmt.Errorf("list active log summaries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var ls LogSummary
			var rawID []byte
			var latestID sql.NullInt64
			var lastErr sql.NullString
			var sthID sql.NullInt64
			var sthHash []byte
			var sthSize, sthTimestamp sql.NullInt64
			var sthReceived sql.NullTime
			var sthSig []byte
			var sthConsistent sql.NullBool
			if err := rows.Scan(&rawID, &ls.Log.EndpointURL, &ls.Log.Name, &ls.Log.PublicKey, &ls.Log.Monitoring, &latestID, &lastErr,
				&sthID, &sthHash, &sthSize, &sthTimestamp, &sthReceived, &sthSig, &sthConsistent); err != nil {
				return fmt.Errorf("scan log summary: %w", err)
			}
			copy(ls.Log.LogID[:], rawID)
			if latestID.Valid {
				v := latestID.Int64
				ls.Log.LatestSTHID = &v
			}
			if lastErr.Valid {
				v := lastErr.String
				ls.Log.LastSTHError = &v
			}
			if sthID.Valid {
				sth := STH{
					ID:                          sthID.Int64,
					LogID:                       ls.Log.LogID,
					TreeSize:                    sthSize.Int64,
					STHTimestamp:                sthTimestamp.Int64,
					ReceivedTime:                sthReceived.Time,
					Signature:                   sthSig,
					CheckedConsistentWithLatest: sthConsistent.Bool,
				}
				copy(sth.TreeHash[:], sthHash)
				ls.LatestSTH = &sth
			}
			out = append(out, ls)
		}
		return rows.Err()
	})
	return out, err
}

// GetSTH fetches a single STH by id, or ErrNotFound.
func (s *Store) GetSTH(ctx context.Context, logID LogID, id int64) (STH, error) {
	sth := STH{ID: id, LogID: logID}
	err := s.RunSerializable(ctx, func(tx *sql.Tx) error {
		var hash []byte
		row := tx.QueryRowContext(ctx, `
			SELECT tree_hash, tree_size, sth_timestamp, received_time, signature, checked_consistent_with_latest
			FROM sth WHERE id = ? AND log_id = ?`, id, logID[:])
		if err := row.Scan(&hash, &sth.TreeSize, &sth.STHTimestamp, &sth.ReceivedTime, &sth.Signature, &sth.CheckedConsistentWithLatest); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("get sth %d: %w", id, err)
		}
		copy(sth.TreeHash[:], hash)
		return nil
	})
	return sth, err
}

// UpsertConsistencyCheckError records (or refreshes) a ConsistencyCheckError
// for the (logID, fromSTHID, toSTHID) key: the first observation sets
// discovery_time, subsequent ones only update last_check_time/reason.
func (s *Store) UpsertConsistencyCheckError(ctx context.Context, logID LogID, fromSTHID, toSTHID int64, reason string) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO consistency_check_errors (log_id, from_sth_id, to_sth_id, discovery_time, last_check_time, last_check_error)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE last_check_time = VALUES(last_check_time), last_check_error = VALUES(last_check_error)`,
			logID[:], fromSTHID, toSTHID, now, now, reason)
		return err
	})
}

// DeleteConsistencyCheckError removes a ConsistencyCheckError once the pair
// has been proven consistent.
func (s *Store) DeleteConsistencyCheckError(ctx context.Context, logID LogID, fromSTHID, toSTHID int64) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM consistency_check_errors WHERE log_id = ? AND from_sth_id = ? AND to_sth_id = ?`,
			logID[:], fromSTHID, toSTHID)
		return err
	})
}

// UpsertCertFetchError records (or refreshes) a CertFetchError for a
// [fromTreeSize, toTreeSize) range.
func (s *Store) UpsertCertFetchError(ctx context.Context, logID LogID, fromTreeSize, toTreeSize int64, reason string) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cert_fetch_errors (log_id, from_tree_size, to_tree_size, error_time, error_msg)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE error_time = VALUES(error_time), error_msg = VALUES(error_msg)`,
			logID[:], fromTreeSize, toTreeSize, now, reason)
		return err
	})
}

// DeleteCertFetchErrors removes CertFetchError rows for a range once it has
// been ingested successfully.
func (s *Store) DeleteCertFetchErrors(ctx context.Context, logID LogID, fromTreeSize, toTreeSize int64) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM cert_fetch_errors WHERE log_id = ? AND from_tree_size = ? AND to_tree_size = ?`,
			logID[:], fromTreeSize, toTreeSize)
		return err
	})
}

// IngestCertificate runs the certificate-ingest subroutine for a single leaf
// inside one read-committed transaction: content-addressed insert of the
// leaf certificate and its chain/DNS names (only on first sight), and the
// CertificateAppearsInLeaf row. Conflict-free by construction, hence
// read-committed rather than serializable.
func (s *Store) IngestCertificate(ctx context.Context, logID LogID, leafIndex int64, leafHash Hash, fingerprint Hash, leafDER []byte, chainDER [][]byte, dnsNames []string) error {
	return s.RunReadCommitted(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO certificates (fingerprint, der) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE fingerprint = fingerprint`, fingerprint[:], leafDER)
		if err != nil {
			return fmt.Errorf("ingest: insert certificate: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			for _, name := range dnsNames {
				if _, err := tx.ExecContext(ctx, `
					INSERT IGNORE INTO certificate_dns_names (fingerprint, dns_name) VALUES (?, ?)`,
					fingerprint[:], name); err != nil {
					return fmt.Errorf("ingest: insert dns name: %w", err)
				}
			}
			for i, der := range chainDER {
				if _, err := tx.ExecContext(ctx, `
					INSERT IGNORE INTO certificate_chain (fingerprint, position, der) VALUES (?, ?, ?)`,
					fingerprint[:], i, der); err != nil {
					return fmt.Errorf("ingest: insert chain cert: %w", err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO certificate_appears_in_leaf (log_id, leaf_index, leaf_hash, fingerprint)
			VALUES (?, ?, ?, ?)`, logID[:], leafIndex, leafHash[:], fingerprint[:]); err != nil {
			return fmt.Errorf("ingest: insert appears-in-leaf: %w", err)
		}
		return nil
	})
}

// InsertLog inserts a new log row, or, if a row with the same log_id already
// exists, verifies public_key is unchanged and updates the mutable fields
// (name, endpoint_url, monitoring). A mismatched public key is refused with
// ErrPublicKeyChanged rather than silently rewritten — used only by the
// bootstrap collaborator.
func (s *Store) InsertLog(ctx context.Context, l Log) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		var existingKey []byte
		err := tx.QueryRowContext(ctx, `SELECT public_key FROM ctlogs WHERE log_id = ?`, l.LogID[:]).Scan(&existingKey)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err := tx.ExecContext(ctx, `
				INSERT INTO ctlogs (log_id, endpoint_url, name, public_key, monitoring)
				VALUES (?, ?, ?, ?, ?)`, l.LogID[:], l.EndpointURL, l.Name, l.PublicKey, l.Monitoring)
			return err
		case err != nil:
			return fmt.Errorf("insert log: lookup existing: %w", err)
		}

		if !bytesEqual(existingKey, l.PublicKey) {
			return fmt.Errorf("%w: log %s", ErrPublicKeyChanged, l.LogID.Hex())
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE ctlogs SET endpoint_url = ?, name = ?, monitoring = ? WHERE log_id = ?`,
			l.EndpointURL, l.Name, l.Monitoring, l.LogID[:])
		return err
	})
}

// SetMonitoring flips a log's monitoring flag. Nothing in this module calls
// it; bootstrap sets the flag through InsertLog.
func (s *Store) SetMonitoring(ctx context.Context, logID LogID, monitoring bool) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE ctlogs SET monitoring = ? WHERE log_id = ?`, monitoring, logID[:])
		return err
	})
}

// Stats returns the active/total log counts backing GET /api/stats.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.RunSerializable(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ctlogs`).Scan(&st.TotalLogs); err != nil {
			return fmt.Errorf("stats: total: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ctlogs WHERE monitoring = TRUE`).Scan(&st.ActiveLogs); err != nil {
			return fmt.Errorf("stats: active: %w", err)
		}
		return nil
	})
	return st, err
}

// FlagRetiredLogAdvanced records that a retired log's STH pointer advanced
// after it was marked non-monitoring. Reserved: nothing in the Worker or
// Supervisor calls this today.
func (s *Store) FlagRetiredLogAdvanced(ctx context.Context, logID LogID, sthID int64) error {
	return s.RunSerializable(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO retired_log_changed_error (log_id, sth_id, noticed_at) VALUES (?, ?, ?)`,
			logID[:], sthID, time.Now().UTC())
		return err
	})
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
