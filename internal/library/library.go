// Package library stores generated speech as WAV files in an output
// directory and keeps a SQLite index of them.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BoltzmannEntropy/Mayari/internal/audiomerge"
	"github.com/BoltzmannEntropy/Mayari/internal/config"
	"github.com/BoltzmannEntropy/Mayari/internal/tts"
)

const (
	filePrefix = "kokoro-"
	fileExt    = ".wav"
)

var (
	// ErrNotFound is returned when no stored file has the given name.
	ErrNotFound = errors.New("audio file not found")
	// ErrInvalidFilename is returned for names that would escape the output directory.
	ErrInvalidFilename = errors.New("invalid audio filename")
)

// Entry describes one stored recording.
type Entry struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	Voice           string    `json:"voice"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int64     `json:"size_bytes"`
	Chunks          int       `json:"chunks,omitempty"`
	SampleRate      int       `json:"sample_rate,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Recording is audio ready to be written to the library.
type Recording struct {
	Voice      string
	Audio      audiomerge.Buffer
	SampleRate int
	Chunks     int
}

type Library struct {
	db    *sql.DB
	cfg   config.LibraryConfig
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

// Open prepares the output directory and the index database.
func Open(ctx context.Context, cfg config.LibraryConfig, log *slog.Logger) (*Library, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	dir := filepath.Dir(cfg.IndexPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite", cfg.IndexPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	l := &Library{
		db:    db,
		cfg:   cfg,
		log:   log.With(slog.String("component", "library")),
		clock: time.Now,
		newID: uuid.NewString,
	}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := l.vacuum(ctx); err != nil {
			l.log.Warn("library vacuum failed", slogError(err))
		}
	}
	if err := l.Reconcile(ctx); err != nil {
		l.log.Warn("library reconcile failed", slogError(err))
	}
	if err := l.Prune(ctx); err != nil {
		l.log.Warn("library prune on start failed", slogError(err))
	}
	return l, nil
}

func (l *Library) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS recordings (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL UNIQUE,
    voice TEXT NOT NULL,
    duration_seconds REAL NOT NULL,
    size_bytes INTEGER NOT NULL,
    chunks INTEGER NOT NULL DEFAULT 0,
    sample_rate INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);
`
	_, err := l.db.ExecContext(ctx, ddl)
	return err
}

func (l *Library) vacuum(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases the index database.
func (l *Library) Close() error {
	return l.db.Close()
}

// Dir returns the output directory.
func (l *Library) Dir() string { return l.cfg.OutputDir }

// DB returns the index connection pool, for stats collection.
func (l *Library) DB() *sql.DB { return l.db }

// Save writes rec as kokoro-{voice}-{uuid}.wav and indexes it.
func (l *Library) Save(ctx context.Context, rec Recording) (Entry, error) {
	if rec.SampleRate <= 0 {
		return Entry{}, fmt.Errorf("save recording: invalid sample rate %d", rec.SampleRate)
	}
	voice := rec.Voice
	if voice == "" || strings.ContainsAny(voice, `/\`) {
		return Entry{}, fmt.Errorf("%w: voice %q", ErrInvalidFilename, voice)
	}

	id := filePrefix + voice + "-" + l.newID()
	filename := id + fileExt
	path := filepath.Join(l.cfg.OutputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return Entry{}, fmt.Errorf("create audio file: %w", err)
	}
	if err := tts.EncodeWAV(f, rec.Audio, rec.SampleRate); err != nil {
		f.Close()
		os.Remove(path)
		return Entry{}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Entry{}, fmt.Errorf("close audio file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:              id,
		Filename:        filename,
		Voice:           voice,
		DurationSeconds: float64(rec.Audio.Len()) / float64(rec.SampleRate),
		SizeBytes:       info.Size(),
		Chunks:          rec.Chunks,
		SampleRate:      rec.SampleRate,
		CreatedAt:       l.now(),
	}
	if err := l.insert(ctx, entry); err != nil {
		os.Remove(path)
		return Entry{}, err
	}
	l.log.Info("stored recording",
		slog.String("filename", filename),
		slog.Float64("duration_seconds", entry.DurationSeconds),
		slog.Int64("size_bytes", entry.SizeBytes))
	return entry, nil
}

// now returns the clock in UTC at second precision so stored timestamps
// compare lexically.
func (l *Library) now() time.Time {
	return l.clock().UTC().Truncate(time.Second)
}

func (l *Library) insert(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO recordings(id, filename, voice, duration_seconds, size_bytes, chunks, sample_rate, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(filename) DO NOTHING`,
		e.ID, e.Filename, e.Voice, e.DurationSeconds, e.SizeBytes, e.Chunks, e.SampleRate, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("index recording: %w", err)
	}
	return nil
}

// List returns every stored recording ordered by filename, newest name first.
func (l *Library) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, filename, voice, duration_seconds, size_bytes, chunks, sample_rate, created_at
		 FROM recordings ORDER BY filename DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Filename, &e.Voice, &e.DurationSeconds, &e.SizeBytes, &e.Chunks, &e.SampleRate, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Path resolves filename inside the output directory.
func (l *Library) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) || strings.HasPrefix(filename, ".") {
		return "", ErrInvalidFilename
	}
	return filepath.Join(l.cfg.OutputDir, filename), nil
}

// Delete removes a recording and its index row.
func (l *Library) Delete(ctx context.Context, filename string) error {
	path, err := l.Path(filename)
	if err != nil {
		return err
	}
	res, err := l.db.ExecContext(ctx, `DELETE FROM recordings WHERE filename = ?`, filename)
	if err != nil {
		return err
	}
	indexed, _ := res.RowsAffected()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if indexed > 0 {
				return nil
			}
			return ErrNotFound
		}
		return fmt.Errorf("remove audio file: %w", err)
	}
	l.log.Info("deleted recording", slog.String("filename", filename))
	return nil
}

// Reconcile indexes kokoro-*.wav files found on disk without a row and drops
// rows whose file has disappeared.
func (l *Library) Reconcile(ctx context.Context) error {
	known := map[string]bool{}
	rows, err := l.db.QueryContext(ctx, `SELECT filename FROM recordings`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		known[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	matches, err := filepath.Glob(filepath.Join(l.cfg.OutputDir, filePrefix+"*"+fileExt))
	if err != nil {
		return err
	}
	for _, path := range matches {
		name := filepath.Base(path)
		if known[name] {
			delete(known, name)
			continue
		}
		entry, err := describe(path)
		if err != nil {
			l.log.Warn("skipping unreadable audio file", slog.String("filename", name), slogError(err))
			continue
		}
		if err := l.insert(ctx, entry); err != nil {
			return err
		}
	}
	for name := range known {
		if _, err := l.db.ExecContext(ctx, `DELETE FROM recordings WHERE filename = ?`, name); err != nil {
			return err
		}
	}
	return nil
}

func describe(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}
	duration, err := tts.WAVDuration(f)
	if err != nil {
		return Entry{}, err
	}
	name := filepath.Base(path)
	id := strings.TrimSuffix(name, fileExt)
	return Entry{
		ID:              id,
		Filename:        name,
		Voice:           voiceFromID(id),
		DurationSeconds: duration,
		SizeBytes:       info.Size(),
		CreatedAt:       info.ModTime().UTC().Truncate(time.Second),
	}, nil
}

// voiceFromID extracts the voice of a kokoro-{voice}-{uuid} stem.
func voiceFromID(id string) string {
	parts := strings.Split(id, "-")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}

// Prune applies the configured retention by age and by file count.
func (l *Library) Prune(ctx context.Context) error {
	var victims []string
	if l.cfg.RetentionDays > 0 {
		cutoff := l.now().Add(-time.Duration(l.cfg.RetentionDays) * 24 * time.Hour)
		names, err := l.filenames(ctx, `SELECT filename FROM recordings WHERE created_at < ?`, cutoff)
		if err != nil {
			return err
		}
		victims = append(victims, names...)
	}
	if l.cfg.MaxFiles > 0 {
		names, err := l.filenames(ctx,
			`SELECT filename FROM recordings ORDER BY created_at DESC, filename DESC LIMIT -1 OFFSET ?`, l.cfg.MaxFiles)
		if err != nil {
			return err
		}
		victims = append(victims, names...)
	}

	removed := 0
	seen := make(map[string]bool, len(victims))
	for _, name := range victims {
		if seen[name] {
			continue
		}
		seen[name] = true
		if err := l.Delete(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		removed++
	}
	if removed > 0 {
		l.log.Info("pruned recordings", slog.Int("count", removed))
	}
	return nil
}

func (l *Library) filenames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
