package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"overdub/internal/pipeline"
	"overdub/internal/services"
	"overdub/internal/sqlitestore"
)

// ErrNotFound reports an unknown run id.
var ErrNotFound = errors.New("history entry not found")

// Entry is one recorded run.
type Entry struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Mode           pipeline.Mode  `json:"mode"`
	Target         string         `json:"target,omitempty"`
	State          pipeline.State `json:"state"`
	Language       string         `json:"language,omitempty"`
	Segments       int            `json:"segments"`
	SourceDuration float64        `json:"source_duration"`
	OutputPath     string         `json:"output_path,omitempty"`
	SRTPath        string         `json:"srt_path,omitempty"`
	Container      string         `json:"container,omitempty"`
	SizeBytes      int64          `json:"size_bytes"`
	Frames         int            `json:"frames"`
	ErrorKind      services.Kind  `json:"error_kind,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      time.Time      `json:"started_at,omitzero"`
	FinishedAt     time.Time      `json:"finished_at,omitzero"`
}

// Elapsed returns the processing time of the run.
func (e Entry) Elapsed() time.Duration {
	if e.StartedAt.IsZero() || e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// FromSnapshot converts a terminal snapshot into an entry.
func FromSnapshot(snap pipeline.Snapshot) Entry {
	e := Entry{
		ID:           snap.ID,
		Name:         snap.Name,
		Mode:         snap.Mode,
		Target:       snap.Target,
		State:        snap.State,
		Language:     snap.Language,
		Segments:     snap.Segments,
		ErrorKind:    snap.ErrorKind,
		ErrorMessage: snap.ErrorMessage,
		Warnings:     snap.Warnings,
		CreatedAt:    snap.CreatedAt,
		StartedAt:    snap.StartedAt,
		FinishedAt:   snap.FinishedAt,
	}
	if snap.Source != nil {
		e.SourceDuration = snap.Source.Duration
	}
	if snap.Output != nil {
		e.OutputPath = snap.Output.Path
		e.SRTPath = snap.Output.SRTPath
		e.Container = snap.Output.Container
		e.SizeBytes = snap.Output.SizeBytes
		e.Frames = snap.Output.Frames
	}
	return e
}

// Store wraps the history database.
type Store struct {
	db   *sql.DB
	path string
}

var _ pipeline.Recorder = (*Store)(nil)

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitestore.Open(ctx, path, schemaSQL, schemaVersion)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Record implements pipeline.Recorder. Recording the same run twice replaces
// the earlier entry.
func (s *Store) Record(ctx context.Context, snap pipeline.Snapshot) error {
	return s.Put(ctx, FromSnapshot(snap))
}

// Put inserts or replaces an entry.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("history entry id required")
	}
	var warnings any
	if len(e.Warnings) > 0 {
		data, err := json.Marshal(e.Warnings)
		if err != nil {
			return fmt.Errorf("marshal warnings: %w", err)
		}
		warnings = string(data)
	}
	err := sqlitestore.Exec(ctx, s.db,
		`INSERT OR REPLACE INTO runs (
            id, name, mode, target, state, language, segments, source_duration,
            output_path, srt_path, container, size_bytes, frames,
            error_kind, error_message, warnings_json, created_at, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		nullableString(e.Name),
		string(e.Mode),
		nullableString(e.Target),
		string(e.State),
		nullableString(e.Language),
		e.Segments,
		e.SourceDuration,
		nullableString(e.OutputPath),
		nullableString(e.SRTPath),
		nullableString(e.Container),
		e.SizeBytes,
		e.Frames,
		nullableString(string(e.ErrorKind)),
		nullableString(e.ErrorMessage),
		warnings,
		formatTime(e.CreatedAt),
		nullableTime(e.StartedAt),
		nullableTime(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", e.ID, err)
	}
	return nil
}

const selectColumns = `id, name, mode, target, state, language, segments, source_duration,
    output_path, srt_path, container, size_bytes, frames,
    error_kind, error_message, warnings_json, created_at, started_at, finished_at`

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM runs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the number of entries; zero means no limit.
	Limit int
	// States restricts entries to the given states.
	States []pipeline.State
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM runs`
	args := make([]any, 0, len(opts.States)+1)
	if len(opts.States) > 0 {
		placeholders := make([]string, len(opts.States))
		for i, st := range opts.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats counts entries per state.
func (s *Store) Stats(ctx context.Context) (map[pipeline.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[pipeline.State]int)
	for rows.Next() {
		var state pipeline.State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Clear removes every entry, or only those finished before cutoff when it is
// non-zero. It returns the number of removed entries.
func (s *Store) Clear(ctx context.Context, cutoff time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	op := func() error {
		if cutoff.IsZero() {
			res, err = s.db.ExecContext(ctx, `DELETE FROM runs`)
		} else {
			res, err = s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, formatTime(cutoff))
		}
		return err
	}
	if err := sqlitestore.RetryOnBusy(ctx, op); err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                                                   Entry
		name, target, language, outputPath, srtPath, contnr sql.NullString
		errorKind, errorMessage, warnings                   sql.NullString
		createdAt                                           string
		startedAt, finishedAt                               sql.NullString
	)
	err := row.Scan(
		&e.ID, &name, &e.Mode, &target, &e.State, &language, &e.Segments, &e.SourceDuration,
		&outputPath, &srtPath, &contnr, &e.SizeBytes, &e.Frames,
		&errorKind, &errorMessage, &warnings, &createdAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Name = name.String
	e.Target = target.String
	e.Language = language.String
	e.OutputPath = outputPath.String
	e.SRTPath = srtPath.String
	e.Container = contnr.String
	e.ErrorKind = services.Kind(errorKind.String)
	e.ErrorMessage = errorMessage.String
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &e.Warnings); err != nil {
			return Entry{}, fmt.Errorf("decode warnings for %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = parseTime(createdAt)
	e.StartedAt = parseTime(startedAt.String)
	e.FinishedAt = parseTime(finishedAt.String)
	return e, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
