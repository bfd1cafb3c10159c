// Package warehouse implements the relational reporting replica on
// PostgreSQL. Rows are keyed by the sample's canonical id so replays
// update in place, and is_current tracks the latest result per RNA id.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/labforge/sample-ingest/internal/stores"
	"github.com/labforge/sample-ingest/internal/types"
)

const upsertChunkSize = 500

var _ stores.Warehouse = (*Store)(nil)

// Store holds the warehouse connection string. Constructing a Store
// performs no I/O; every operation dials its own connection.
type Store struct {
	DSN string
}

// New builds a store for the given connection string
func New(dsn string) *Store {
	return &Store{DSN: dsn}
}

func (s *Store) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}
	return conn, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS lighthouse_sample (
	id                        BIGSERIAL PRIMARY KEY,
	external_id               TEXT NOT NULL UNIQUE,
	sample_uuid               UUID NOT NULL,
	root_sample_id            TEXT NOT NULL,
	viral_prep_id             TEXT,
	rna_id                    TEXT NOT NULL,
	rna_pcr_id                TEXT,
	result                    TEXT NOT NULL,
	date_tested               TIMESTAMPTZ,
	lab_id                    TEXT,
	plate_barcode             TEXT NOT NULL,
	coordinate                TEXT NOT NULL,
	source                    TEXT NOT NULL,
	source_file               TEXT NOT NULL,
	file_date                 TIMESTAMPTZ,
	filtered_positive         BOOLEAN NOT NULL DEFAULT FALSE,
	filtered_positive_version TEXT,
	filtered_positive_at      TIMESTAMPTZ,
	must_sequence             BOOLEAN NOT NULL DEFAULT FALSE,
	preferentially_sequence   BOOLEAN NOT NULL DEFAULT FALSE,
	ch1_target TEXT, ch1_result TEXT, ch1_cq NUMERIC(8,4),
	ch2_target TEXT, ch2_result TEXT, ch2_cq NUMERIC(8,4),
	ch3_target TEXT, ch3_result TEXT, ch3_cq NUMERIC(8,4),
	ch4_target TEXT, ch4_result TEXT, ch4_cq NUMERIC(8,4),
	is_current                BOOLEAN NOT NULL DEFAULT FALSE,
	created_at                TIMESTAMPTZ NOT NULL,
	updated_at                TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS lighthouse_sample_rna_id_idx ON lighthouse_sample (rna_id);
CREATE INDEX IF NOT EXISTS lighthouse_sample_plate_idx ON lighthouse_sample (plate_barcode);
CREATE INDEX IF NOT EXISTS lighthouse_sample_current_idx ON lighthouse_sample (rna_id) WHERE is_current;
`

// EnsureSchema creates the reporting table and its indexes. Safe to call
// repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating warehouse schema: %w", err)
	}
	return nil
}

const upsertSQL = `
INSERT INTO lighthouse_sample (
	external_id, sample_uuid, root_sample_id, viral_prep_id, rna_id,
	rna_pcr_id, result, date_tested, lab_id, plate_barcode, coordinate,
	source, source_file, file_date,
	filtered_positive, filtered_positive_version, filtered_positive_at,
	must_sequence, preferentially_sequence,
	ch1_target, ch1_result, ch1_cq,
	ch2_target, ch2_result, ch2_cq,
	ch3_target, ch3_result, ch3_cq,
	ch4_target, ch4_result, ch4_cq,
	is_current, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19,
	$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31,
	$32, $33, $34
)
ON CONFLICT (external_id) DO UPDATE SET
	result = EXCLUDED.result,
	date_tested = EXCLUDED.date_tested,
	filtered_positive = EXCLUDED.filtered_positive,
	filtered_positive_version = EXCLUDED.filtered_positive_version,
	filtered_positive_at = EXCLUDED.filtered_positive_at,
	must_sequence = EXCLUDED.must_sequence,
	preferentially_sequence = EXCLUDED.preferentially_sequence,
	is_current = EXCLUDED.is_current,
	updated_at = EXCLUDED.updated_at
`

// UpsertSamples writes the file's records in one transaction: earlier rows
// for the same RNA ids are demoted first, then the new rows land with the
// latest one per RNA id marked current.
func (s *Store) UpsertSamples(ctx context.Context, records []*types.SampleRecord) error {
	if len(records) == 0 {
		return nil
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current := markCurrent(records)

	rnaIDs := make([]string, 0, len(records))
	for _, record := range records {
		rnaIDs = append(rnaIDs, record.RNAID)
	}
	demote := `UPDATE lighthouse_sample SET is_current = FALSE, updated_at = NOW() WHERE rna_id = ANY($1) AND is_current`
	if _, err := tx.Exec(ctx, demote, rnaIDs); err != nil {
		return fmt.Errorf("demoting previous results: %w", err)
	}

	for start := 0; start < len(records); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(records) {
			end = len(records)
		}

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			batch.Queue(upsertSQL, upsertArgs(records[i], current[i])...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting samples: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing warehouse write: %w", err)
	}
	return nil
}

func upsertArgs(record *types.SampleRecord, isCurrent bool) []interface{} {
	args := []interface{}{
		record.CanonicalID,
		record.SampleUUID.String(),
		record.RootSampleID,
		nullable(record.ViralPrepID),
		record.RNAID,
		nullable(record.RNAPCRID),
		string(record.Result),
		record.DateTested,
		nullable(record.LabID),
		record.PlateBarcode,
		types.PadCoordinate(record.Coordinate),
		record.Source,
		record.SourceFile,
		record.FileDate,
		record.FilteredPositive,
		nullable(record.FilteredPositiveVersion),
		nullableTime(record.FilteredPositiveAt),
		record.MustSequence,
		record.PreferentiallySequence,
	}
	for _, ch := range record.Channels {
		args = append(args, ch.Target, ch.Result, cqString(ch))
	}
	args = append(args, isCurrent, record.CreatedAt, record.UpdatedAt)
	return args
}

// markCurrent flags, per RNA id, the last record of the batch; earlier
// occurrences land already demoted.
func markCurrent(records []*types.SampleRecord) []bool {
	current := make([]bool, len(records))
	seen := make(map[string]struct{}, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if _, ok := seen[records[i].RNAID]; ok {
			continue
		}
		seen[records[i].RNAID] = struct{}{}
		current[i] = true
	}
	return current
}

func cqString(ch types.Channel) *string {
	if ch.Cq == nil {
		return nil
	}
	s := ch.Cq.String()
	return &s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
