// Package server exposes the pipeline, task store, query engine and
// exports over HTTP.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/export"
	"github.com/radfollowup/wrangler/internal/normalize"
	"github.com/radfollowup/wrangler/internal/pipeline"
	"github.com/radfollowup/wrangler/internal/query"
	"github.com/radfollowup/wrangler/internal/store"
)

type Server struct {
	Echo      *echo.Echo
	Processor *pipeline.Processor
	Store     store.Store
	Query     *query.Engine
	Export    *export.Service
	Logger    *slog.Logger
}

func New(proc *pipeline.Processor, st store.Store, qe *query.Engine, ex *export.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Error("http.error", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	s := &Server{Echo: e, Processor: proc, Store: st, Query: qe, Export: ex, Logger: logger}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	v1.POST("/documents", s.ingestDocument)
	v1.GET("/tasks", s.listTasks)
	v1.GET("/tasks/:id", s.getTask)
	v1.PATCH("/tasks/:id/status", s.updateStatus)
	v1.POST("/query", s.answerQuery)
	v1.GET("/export/tasks.csv", s.exportCSV)
	v1.GET("/export/tasks.xlsx", s.exportXLSX)
	v1.GET("/dashboard", s.dashboard)

	return s
}

func (s *Server) Start(addr string) error {
	return s.Echo.Start(addr)
}

type ingestRequest struct {
	DocumentID string   `json:"document_id"`
	PatientID  string   `json:"patient_id"`
	ReportDate string   `json:"report_date"` // YYYY-MM-DD, optional
	SourceFile string   `json:"source_file"`
	Pages      []string `json:"pages"`
}

type sectionResult struct {
	Kind   constants.SectionKind  `json:"kind"`
	Status pipeline.SectionStatus `json:"status"`
	Error  string                 `json:"error,omitempty"`
}

type ingestResponse struct {
	DocumentID    string          `json:"document_id"`
	TaskIDs       []uuid.UUID     `json:"task_ids"`
	Merged        int             `json:"merged"`
	Sections      []sectionResult `json:"sections"`
	LowConfidence bool            `json:"low_confidence"`
}

func (s *Server) ingestDocument(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if len(req.Pages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "pages is required")
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.New().String()
	}
	var reportDate *time.Time
	if req.ReportDate != "" {
		t, err := time.Parse("2006-01-02", req.ReportDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "report_date must be YYYY-MM-DD")
		}
		reportDate = &t
	}

	pages := make([]normalize.Page, len(req.Pages))
	for i, p := range req.Pages {
		pages[i] = normalize.Page{Number: i + 1, Text: p}
	}
	doc := normalize.Normalize(req.DocumentID, req.PatientID, req.SourceFile, reportDate, pages)

	res, err := s.Processor.ProcessDocument(c.Request().Context(), doc)
	if err != nil {
		return err
	}

	resp := ingestResponse{
		DocumentID:    req.DocumentID,
		TaskIDs:       res.TaskIDs,
		Merged:        res.Merged,
		LowConfidence: doc.LowConfidence,
	}
	for _, o := range res.Sections {
		resp.Sections = append(resp.Sections, sectionResult{Kind: o.Kind, Status: o.Status, Error: o.Error})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) listTasks(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	tasks, err := s.Store.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}
	t, err := s.Store.Get(c.Request().Context(), id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, t)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	status, ok := constants.ParseStatus(req.Status)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+req.Status)
	}
	t, err := s.Store.UpdateStatus(c.Request().Context(), id, status)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) answerQuery(c echo.Context) error {
	var req struct {
		Question string `json:"question"`
	}
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	ans, err := s.Query.Answer(c.Request().Context(), req.Question)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ans)
}

func (s *Server) exportCSV(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	data, err := s.Export.ExportCSV(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="tasks.csv"`)
	return c.Blob(http.StatusOK, "text/csv", data)
}

func (s *Server) exportXLSX(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	data, err := s.Export.ExportXLSX(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="tasks.xlsx"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) dashboard(c echo.Context) error {
	stats, err := s.Export.Dashboard(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func filterFromQuery(c echo.Context) (entity.TaskFilter, error) {
	var f entity.TaskFilter
	f.PatientID = c.QueryParam("patient")
	if v := c.QueryParam("urgency"); v != "" {
		u, ok := constants.ParseUrgency(v)
		if !ok {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unknown urgency "+v)
		}
		f.Urgency = u
	}
	if v := c.QueryParam("status"); v != "" {
		st, ok := constants.ParseStatus(v)
		if !ok {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unknown status "+v)
		}
		f.Status = st
	}
	for param, dst := range map[string]**time.Time{
		"due_before": &f.DueBefore,
		"due_after":  &f.DueAfter,
	} {
		if v := c.QueryParam(param); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return f, echo.NewHTTPError(http.StatusBadRequest, param+" must be YYYY-MM-DD")
			}
			*dst = &t
		}
	}
	return f, nil
}

// storeError maps store sentinels to HTTP statuses.
func storeError(err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}
