package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/planfox/reports_backend/config"
	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
	"bitbucket.org/planfox/reports_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var progressRegistry = workflow.NewProgressRegistry()

var (
	retrieverOnce sync.Once
	retriever     workflow.Retriever

	composerOnce sync.Once
	composer     workflow.Composer
)

// getRetriever builds the retrieval client once. A missing configuration is
// not fatal at startup: data_only reports never need it, and ai_assisted
// sections degrade to per-section failures.
func getRetriever(logger *logrus.Logger) workflow.Retriever {
	retrieverOnce.Do(func() {
		r, err := workflow.NewRetrievalClientFromEnv()
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "getRetriever",
			}).Warn("retrieval client disabled: " + err.Error())
			return
		}
		retriever = r
	})
	return retriever
}

func getComposer(logger *logrus.Logger) workflow.Composer {
	composerOnce.Do(func() {
		c, err := workflow.NewOpenAIComposerFromEnv()
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "getComposer",
			}).Warn("ai composer disabled: " + err.Error())
			return
		}
		composer = c
	})
	return composer
}

func pipelineDeps() workflow.PipelineDeps {
	db := config.GetDB()
	logger := config.GetLogger()
	return workflow.PipelineDeps{
		Store:     workflow.NewGormReportStore(db),
		Context:   workflow.NewDBContextProvider(db),
		Retriever: getRetriever(logger),
		Composer:  getComposer(logger),
		Progress:  progressRegistry,
		Memory:    workflow.NewDBMemoryCapturer(db),
		Logger:    logger,
	}
}

func reportIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return 0, false
	}
	return id, true
}

func approveReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, ok := reportIdParam(c)
		if !ok {
			return
		}
		actorId, ok := utils.GetUsernameFromContext(c.Request.Context())
		if !ok || actorId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		actorName, _ := utils.GetUserNameFromContext(c.Request.Context())

		var input workflow.ApproveInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}

		result, rejection, err := workflow.ApproveTableOfContents(c.Request.Context(), pipelineDeps(), reportId, actorId, actorName, input)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if rejection != nil {
			if rejection.LockConflict != nil {
				c.JSON(http.StatusConflict, gin.H{"lock_conflict": rejection.LockConflict})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"validation_errors": rejection.ValidationErrors})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func resetReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, ok := reportIdParam(c)
		if !ok {
			return
		}
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		report, err := workflow.ResetReport(c.Request.Context(), pipelineDeps(), reportId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func regenerateSectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, ok := reportIdParam(c)
		if !ok {
			return
		}
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		sectionIndex, err := strconv.Atoi(c.Param("index"))
		if err != nil || sectionIndex < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid section index"})
			return
		}

		section, err := workflow.RegenerateSection(c.Request.Context(), pipelineDeps(), reportId, sectionIndex)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report or section not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, section)
	}
}

func getReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, ok := reportIdParam(c)
		if !ok {
			return
		}
		report, err := models.GetReportById(c.Request.Context(), reportId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func listReportSectionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, ok := reportIdParam(c)
		if !ok {
			return
		}
		if _, err := models.GetReportById(c.Request.Context(), reportId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sections, err := models.GetSectionsByReportId(c.Request.Context(), reportId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sections": sections})
	}
}

// reportProgressHandler streams generation progress as server-sent events.
// A consumer that connects after the run ended gets a single snapshot event;
// one that connects mid-run gets live events from that point on. Full section
// state is always recoverable via GET /reports/:id/sections.
func reportProgressHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, ok := reportIdParam(c)
		if !ok {
			return
		}
		report, err := models.GetReportById(c.Request.Context(), reportId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)

		if report.Status.IsTerminal() {
			writeProgressEvent(c, terminalSnapshotEvent(report))
			return
		}

		ch, unsubscribe := progressRegistry.Subscribe(reportId)
		defer unsubscribe()

		// The run may have reached terminal status between the first read and
		// Subscribe; no Close will hit this subscription then, so re-check and
		// fall back to the snapshot.
		if !progressRegistry.RunActive(reportId) {
			report, err = models.GetReportById(c.Request.Context(), reportId)
			if err == nil && report.Status.IsTerminal() {
				writeProgressEvent(c, terminalSnapshotEvent(report))
				return
			}
		}

		keepAlive := time.NewTicker(25 * time.Second)
		defer keepAlive.Stop()
		for {
			select {
			case evt, open := <-ch:
				if !open {
					return
				}
				writeProgressEvent(c, evt)
			case <-keepAlive.C:
				fmt.Fprint(c.Writer, ": keep-alive\n\n")
				c.Writer.Flush()
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

func terminalSnapshotEvent(report *models.Report) workflow.ProgressEvent {
	if report.Status == models.ReportStatusComplete {
		return workflow.ProgressEvent{
			Kind:          workflow.ProgressEventComplete,
			TotalSections: len(report.TableOfContents.Sections),
		}
	}
	return workflow.ProgressEvent{
		Kind:    workflow.ProgressEventError,
		Message: "generation failed",
	}
}

func writeProgressEvent(c *gin.Context, evt workflow.ProgressEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", evt.Kind, payload)
	c.Writer.Flush()
}
