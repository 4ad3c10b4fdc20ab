package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/analytics"
	"github.com/shizukutanaka/logpulse/internal/common"
	"github.com/shizukutanaka/logpulse/internal/database"
	"github.com/shizukutanaka/logpulse/internal/ingest"
)

const maxUploadBytes = 512 << 20

const statsCacheKey = "stats"

// handleUpload accepts a multipart upload and starts ingestion in the
// background. The response carries the file in state uploaded; progress is
// observable via GET or the websocket feed.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	upload, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer upload.Close()

	file, err := s.coordinator.Intake(r.Context(), upload, ingest.Meta{
		Filename:    header.Filename,
		Source:      r.FormValue("source"),
		Environment: r.FormValue("environment"),
		LogType:     r.FormValue("log_type"),
	})
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}

	common.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := s.coordinator.Ingest(ctx, file.ID); err != nil {
			s.logger.Error("Background ingestion failed",
				zap.Int64("file_id", file.ID),
				zap.Error(err),
			)
		}
	}, func(err error) {
		s.logger.Error("Background ingestion panicked",
			zap.Int64("file_id", file.ID),
			zap.Error(err),
		)
	})

	s.sendJSON(w, http.StatusAccepted, file)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	files, err := s.files.List(r.Context(), limit, offset)
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, files)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	file, err := s.files.Get(r.Context(), id)
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, file)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, r, s.coordinator.Ingest)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, r, s.coordinator.Rebuild)
}

// startJob launches an ingestion job in the background after verifying the
// file exists. State conflicts surface when the job claims the file, visible
// through the file status.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request, job func(context.Context, int64) error) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	if _, err := s.files.Get(r.Context(), id); err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}

	common.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := job(ctx, id); err != nil {
			s.logger.Error("Background job failed",
				zap.Int64("file_id", id),
				zap.Error(err),
			)
		}
	}, func(err error) {
		s.logger.Error("Background job panicked",
			zap.Int64("file_id", id),
			zap.Error(err),
		)
	})

	s.sendJSON(w, http.StatusAccepted, map[string]interface{}{"file_id": id, "started": true})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	filter := database.EntryFilter{
		Level:   r.URL.Query().Get("level"),
		Service: r.URL.Query().Get("service"),
		Keyword: r.URL.Query().Get("keyword"),
		Limit:   queryInt(r, "limit", 100),
		Offset:  queryInt(r, "offset", 0),
	}

	if raw := r.URL.Query().Get("file_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid file_id")
			return
		}
		filter.FileID = &id
	}

	var err error
	if filter.Start, err = queryTime(r, "start"); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid start time, use RFC3339")
		return
	}
	if filter.End, err = queryTime(r, "end"); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid end time, use RFC3339")
		return
	}

	entries, err := s.entries.List(r.Context(), filter)
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

// handleStats serves aggregate counts, cached briefly because the query scans
// the entries table
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid start time, use RFC3339")
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid end time, use RFC3339")
		return
	}

	cacheable := start == nil && end == nil
	if cacheable {
		if cached, err := s.statsCache.Get(statsCacheKey); err == nil {
			var stats database.LevelStats
			if err := json.Unmarshal(cached, &stats); err == nil {
				s.sendJSON(w, http.StatusOK, &stats)
				return
			}
		}
	}

	stats, err := s.entries.Stats(r.Context(), start, end)
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}

	if cacheable {
		if encoded, err := json.Marshal(stats); err == nil {
			if err := s.statsCache.Set(statsCacheKey, encoded); err != nil {
				s.logger.Debug("Failed to cache stats", zap.Error(err))
			}
		}
	}

	s.sendJSON(w, http.StatusOK, stats)
}

type runRequest struct {
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	FileID *int64     `json:"file_id,omitempty"`
}

// handleRunPipeline executes the analytics pipeline synchronously and returns
// the run summary
func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	summary, err := s.runner.Run(r.Context(), analytics.RunOptions{
		Trigger: "api",
		Start:   req.Start,
		End:     req.End,
		FileID:  req.FileID,
	})
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}

	s.recordRunMetrics(summary)
	s.hub.NotifyRun(summary)
	s.sendJSON(w, http.StatusOK, summary)
}

func (s *Server) recordRunMetrics(summary *analytics.RunSummary) {
	if s.metrics == nil {
		return
	}
	for _, run := range []*database.PipelineRun{summary.AnomalyRun, summary.ClusterRun} {
		if run == nil || run.DurationSeconds == nil {
			continue
		}
		s.metrics.RecordPipelineRun(run.Kind, run.Status, *run.DurationSeconds)
	}
	s.metrics.RecordAnomalies(summary.Anomalies)
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "global"
	}

	minScore := 0.0
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			s.sendError(w, http.StatusBadRequest, "invalid min_score")
			return
		}
		minScore = parsed
	}

	windows, err := s.store.ListAnomalyWindows(r.Context(), scope, minScore, queryInt(r, "limit", 100))
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, windows)
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.store.ListClusters(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	snapshot := s.health.Check(r.Context())
	status := http.StatusOK
	if snapshot.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.sendJSON(w, status, snapshot)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}
