package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BoltzmannEntropy/Mayari/internal/library"
	"github.com/BoltzmannEntropy/Mayari/internal/pipeline"
	"github.com/BoltzmannEntropy/Mayari/internal/protocol"
	"github.com/BoltzmannEntropy/Mayari/internal/voices"
)

const maxBodyBytes = 1 << 20

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Engine  string `json:"engine"`
	Backend string `json:"backend"`
}

type voicesResponse struct {
	Voices  []voices.Voice `json:"voices"`
	Default string         `json:"default"`
}

type generateRequest struct {
	Text          string   `json:"text"`
	Voice         string   `json:"voice"`
	Speed         *float64 `json:"speed"`
	MaxChars      int      `json:"max_chars"`
	CrossfadeMS   *int     `json:"crossfade_ms"`
	SmartChunking *bool    `json:"smart_chunking"`
}

type generateResponse struct {
	AudioURL        string  `json:"audio_url"`
	Filename        string  `json:"filename"`
	Voice           string  `json:"voice"`
	DurationSeconds float64 `json:"duration_seconds"`
	Chunks          int     `json:"chunks"`
}

type audioFile struct {
	ID              string  `json:"id"`
	Filename        string  `json:"filename"`
	Voice           string  `json:"voice"`
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
}

type listResponse struct {
	AudioFiles []audioFile `json:"audio_files"`
}

type deleteResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: r.deps.Version,
		Engine:  "kokoro",
		Backend: r.deps.Pipeline.Engine(),
	})
}

func (r *Runtime) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voicesResponse{
		Voices:  r.deps.Voices.Voices,
		Default: r.deps.Voices.Default().Code,
	})
}

func (r *Runtime) handleGenerate(w http.ResponseWriter, req *http.Request) {
	var body generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if limit := r.cfg.HTTP.MaxTextLength; limit > 0 && utf8.RuneCountInString(body.Text) > limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Text too long (max %d chars)", limit))
		return
	}

	voice := body.Voice
	if voice == "" {
		voice = r.deps.Voices.Default().Code
	}
	if _, ok := r.deps.Voices.Lookup(voice); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown voice: %s", voice))
		return
	}
	speed := 1.0
	if body.Speed != nil {
		speed = *body.Speed
	}

	start := time.Now()
	res, entry, err := pipeline.Render(req.Context(), r.deps.Pipeline, r.deps.Library, pipeline.Request{
		Text:        body.Text,
		Voice:       voice,
		Speed:       speed,
		MaxChars:    body.MaxChars,
		CrossfadeMS: body.CrossfadeMS,
		Chunking:    body.SmartChunking,
	})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNothingToSynthesize):
			writeError(w, http.StatusBadRequest, "Text is required")
		case errors.Is(err, pipeline.ErrInvalidOptions):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			r.logger.Error("generation failed", slogError(err))
			writeError(w, http.StatusInternalServerError, "Generation failed: "+err.Error())
		}
		return
	}

	r.logger.Info("generated speech",
		slog.String("filename", entry.Filename),
		slog.String("voice", res.Voice),
		slog.Int("chunks", res.Chunks),
		slog.Duration("elapsed", time.Since(start)))
	r.publishLibraryEvent("created", entry.Filename)

	writeJSON(w, http.StatusOK, generateResponse{
		AudioURL:        pipeline.AudioURL(entry.Filename),
		Filename:        entry.Filename,
		Voice:           res.Voice,
		DurationSeconds: entry.DurationSeconds,
		Chunks:          res.Chunks,
	})
}

func (r *Runtime) handleList(w http.ResponseWriter, req *http.Request) {
	entries, err := r.deps.Library.List(req.Context())
	if err != nil {
		r.logger.Error("list audio failed", slogError(err))
		writeError(w, http.StatusInternalServerError, "Failed to list audio: "+err.Error())
		return
	}
	files := make([]audioFile, 0, len(entries))
	for _, e := range entries {
		files = append(files, audioFile{
			ID:              e.ID,
			Filename:        e.Filename,
			Voice:           e.Voice,
			AudioURL:        pipeline.AudioURL(e.Filename),
			DurationSeconds: e.DurationSeconds,
			SizeBytes:       e.SizeBytes,
		})
	}
	writeJSON(w, http.StatusOK, listResponse{AudioFiles: files})
}

func (r *Runtime) handleDelete(w http.ResponseWriter, req *http.Request) {
	filename := req.PathValue("filename")
	err := r.deps.Library.Delete(req.Context(), filename)
	switch {
	case err == nil:
	case errors.Is(err, library.ErrNotFound):
		writeError(w, http.StatusNotFound, "File not found")
		return
	case errors.Is(err, library.ErrInvalidFilename):
		writeError(w, http.StatusBadRequest, "Invalid filename")
		return
	default:
		r.logger.Error("delete audio failed", slog.String("filename", filename), slogError(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete: "+err.Error())
		return
	}
	r.publishLibraryEvent("deleted", filename)
	writeJSON(w, http.StatusOK, deleteResponse{Status: "deleted", Filename: filename})
}

func (r *Runtime) handleAudio(w http.ResponseWriter, req *http.Request) {
	path, err := r.deps.Library.Path(req.PathValue("filename"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, req, path)
}

func (r *Runtime) publishLibraryEvent(action, filename string) {
	if r.deps.Bus == nil {
		return
	}
	event := protocol.LibraryEvent{Action: action, Filename: filename, Timestamp: time.Now().UTC()}
	if err := r.deps.Bus.PublishJSON(protocol.SubjectLibraryEvent, event); err != nil {
		r.logger.Warn("failed to publish library event", slogError(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
