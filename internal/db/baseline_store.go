package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/geometry"
)

// BaselineStore persists the single current calibration baseline. It
// implements calibration.Store.
type BaselineStore struct {
	db     *DB
	source string
}

var _ calibration.Store = (*BaselineStore)(nil)

// NewBaselineStore returns a store tagging saved baselines with source.
func NewBaselineStore(db *DB, source string) *BaselineStore {
	return &BaselineStore{db: db, source: source}
}

// SaveBaseline replaces whatever baseline was stored.
func (s *BaselineStore) SaveBaseline(b calibration.Baseline) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m := b.Metrics
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO calibration_baseline (
			slot, baseline_id, slouch_angle, head_tilt_angle, shoulder_alignment,
			shoulder_height, head_yaw, head_pitch, captured_at_unix_nanos, source
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, m.SlouchAngle, m.HeadTiltAngle, m.ShoulderAlignment,
		m.ShoulderHeight, m.HeadYaw, m.HeadPitch, b.CapturedAt.UnixNano(), s.source,
	)
	return err
}

// ClearBaseline deletes the stored baseline, if any.
func (s *BaselineStore) ClearBaseline() error {
	_, err := s.db.Exec(`DELETE FROM calibration_baseline`)
	return err
}

// LoadBaseline returns the stored baseline; ok is false when none is stored.
func (s *BaselineStore) LoadBaseline() (calibration.Baseline, bool, error) {
	var (
		b     calibration.Baseline
		m     geometry.Metrics
		nanos int64
	)
	err := s.db.QueryRow(`
		SELECT baseline_id, slouch_angle, head_tilt_angle, shoulder_alignment,
		       shoulder_height, head_yaw, head_pitch, captured_at_unix_nanos
		FROM calibration_baseline WHERE slot = 1`,
	).Scan(&b.ID, &m.SlouchAngle, &m.HeadTiltAngle, &m.ShoulderAlignment,
		&m.ShoulderHeight, &m.HeadYaw, &m.HeadPitch, &nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return calibration.Baseline{}, false, nil
	}
	if err != nil {
		return calibration.Baseline{}, false, err
	}
	b.Metrics = m
	b.CapturedAt = time.Unix(0, nanos).UTC()
	return b, true, nil
}

// Source returns the source recorded with the stored baseline.
func (s *BaselineStore) Source() (string, error) {
	var src string
	err := s.db.QueryRow(`SELECT source FROM calibration_baseline WHERE slot = 1`).Scan(&src)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return src, err
}
