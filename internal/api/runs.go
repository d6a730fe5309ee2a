package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/banshee-data/stroke.report/internal/config"
	"github.com/banshee-data/stroke.report/internal/db"
	"github.com/banshee-data/stroke.report/internal/httputil"
	"github.com/banshee-data/stroke.report/internal/monitoring"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
	"github.com/banshee-data/stroke.report/internal/rally/pipeline"
	"github.com/banshee-data/stroke.report/internal/rally/progress"
	"github.com/banshee-data/stroke.report/internal/rally/report"
)

// runRequest starts an analysis from inline inputs. Params is a partial
// tuning document laid over the server defaults.
type runRequest struct {
	Track      []l1inputs.TrackPoint `json:"track"`
	Poses      []l1inputs.PoseFrame  `json:"poses"`
	Meta       l1inputs.VideoMeta    `json:"meta"`
	Params     json.RawMessage       `json:"params,omitempty"`
	Classifier string                `json:"classifier,omitempty"`
}

type createRunResponse struct {
	RunID    string          `json:"run_id"`
	Status   progress.Status `json:"status"`
	Strategy string          `json:"strategy"`
}

type statusResponse struct {
	progress.Entry
	Progress float64 `json:"progress"`
}

func abortError(c *gin.Context, status int, runID, msg string) {
	c.AbortWithStatusJSON(status, httputil.ErrorBody{Error: msg, RunID: runID})
}

// resolveTuning overlays the request's params and classifier choice on
// the server defaults.
func (s *Server) resolveTuning(req *runRequest) (*config.TuningConfig, error) {
	tuning := s.tuning
	if len(req.Params) > 0 && string(req.Params) != "null" {
		overlay, err := config.ParseTuningConfig(req.Params)
		if err != nil {
			return nil, err
		}
		tuning = tuning.Merge(overlay)
	}
	if req.Classifier != "" {
		strategy := req.Classifier
		tuning = tuning.Merge(&config.TuningConfig{ClassifierStrategy: &strategy})
	}
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	return tuning, nil
}

func (s *Server) createRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	tuning, err := s.resolveTuning(&req)
	if err != nil {
		abortError(c, http.StatusBadRequest, "", fmt.Sprintf("invalid params: %v", err))
		return
	}
	cfg, err := pipeline.ConfigFromTuning(tuning, s.apiKey)
	if err != nil {
		abortError(c, http.StatusBadRequest, "", fmt.Sprintf("invalid params: %v", err))
		return
	}
	params, err := json.Marshal(tuning)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "", err.Error())
		return
	}

	runner := newRunner(cfg, s.table, s.client)
	runID := uuid.NewString()
	if err := s.store.InsertRun(&db.Run{RunID: runID, Strategy: runner.Strategy(), ParamsJSON: params}); err != nil {
		abortError(c, http.StatusInternalServerError, runID, err.Error())
		return
	}

	in := pipeline.Input{Track: req.Track, Poses: req.Poses, Meta: req.Meta}
	s.wg.Add(1)
	runner.Start(s.ctx, runID, in, func(res *pipeline.Result, err error) {
		defer s.wg.Done()
		s.persist(runID, res, err)
	})
	monitoring.Logf("run %s started: strategy=%s track=%d poses=%d", runID, runner.Strategy(), len(req.Track), len(req.Poses))

	c.JSON(http.StatusAccepted, createRunResponse{RunID: runID, Status: progress.StatusPending, Strategy: runner.Strategy()})
}

func (s *Server) persist(runID string, res *pipeline.Result, runErr error) {
	if runErr != nil {
		monitoring.Logf("run %s: %v", runID, runErr)
	}
	if res == nil {
		if err := s.store.UpdateStatus(runID, string(progress.StatusFailed), progress.DetailProcessingError); err != nil {
			monitoring.Logf("run %s: record failure: %v", runID, err)
		}
		return
	}
	if err := pipeline.Save(s.store, res); err != nil {
		monitoring.Logf("run %s: %v", runID, err)
	}
}

func (s *Server) runStatus(c *gin.Context) {
	runID := c.Param("id")
	if s.table != nil {
		if entry, ok := s.table.Get(runID); ok {
			c.JSON(http.StatusOK, statusResponse{Entry: entry, Progress: entry.Fraction()})
			return
		}
	}

	// Evicted from the progress table: answer from the stored run.
	run, ok := s.lookupRun(c, runID)
	if !ok {
		return
	}
	entry := progress.Entry{
		RunID:      run.RunID,
		Status:     progress.Status(run.Status),
		Detail:     run.Detail,
		StageCount: len(pipeline.Stages),
	}
	var frac float64
	if entry.Status.Terminal() {
		entry.StageIndex = len(pipeline.Stages)
		frac = 1
	}
	c.JSON(http.StatusOK, statusResponse{Entry: entry, Progress: frac})
}

func (s *Server) lookupRun(c *gin.Context, runID string) (*db.Run, bool) {
	run, err := s.store.GetRun(runID)
	if errors.Is(err, db.ErrRunNotFound) {
		abortError(c, http.StatusNotFound, runID, "run not found")
		return nil, false
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, runID, err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) getRun(c *gin.Context) {
	run, ok := s.lookupRun(c, c.Param("id"))
	if !ok {
		return
	}
	if c.Query("audit") != "true" {
		run.AuditJSON = nil
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) runStrokes(c *gin.Context) {
	runID := c.Param("id")
	rows, err := s.store.ListStrokes(runID)
	if errors.Is(err, db.ErrRunNotFound) {
		abortError(c, http.StatusNotFound, runID, "run not found")
		return
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, runID, err.Error())
		return
	}

	strokes := make([]l6strokes.Stroke, 0, len(rows))
	for _, row := range rows {
		var st l6strokes.Stroke
		if err := json.Unmarshal(row.Payload, &st); err != nil {
			abortError(c, http.StatusInternalServerError, runID, fmt.Sprintf("stroke %d: %v", row.Index, err))
			return
		}
		strokes = append(strokes, st)
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "strokes": strokes, "summary": l6strokes.Summarize(strokes)})
}

func (s *Server) runChart(c *gin.Context) {
	runID := c.Param("id")
	run, ok := s.lookupRun(c, runID)
	if !ok {
		return
	}
	if len(run.ResultJSON) == 0 {
		c.AbortWithStatusJSON(http.StatusConflict, httputil.ErrorBody{Error: "run has not finished", RunID: runID, Detail: run.Status})
		return
	}
	var res pipeline.Result
	if err := json.Unmarshal(run.ResultJSON, &res); err != nil {
		abortError(c, http.StatusInternalServerError, runID, fmt.Sprintf("decode result: %v", err))
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := report.RenderTimeline(c.Writer, "Run "+runID, res.Events, res.Strokes); err != nil {
		monitoring.Logf("run %s: %v", runID, err)
	}
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abortError(c, http.StatusBadRequest, "", "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "", err.Error())
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
