package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ig-audit/igaudit/internal/audit"
	"github.com/ig-audit/igaudit/internal/report"
	"github.com/ig-audit/igaudit/internal/storage"
)

const (
	reportRoutePath             = "/"
	snapshotListRoutePath       = "/api/snapshots"
	healthRoutePath             = "/healthz"
	htmlContentType             = "text/html; charset=utf-8"
	errorMessageNoSnapshots     = "no snapshots recorded"
	errorMessageSnapshotLoad    = "snapshot data unavailable"
	errorMessageRenderFailure   = "report rendering failed"
	errorMessageSnapshotListing = "snapshot listing failed"
	healthStatusKey             = "status"
	healthStatusOK              = "ok"
	snapshotsResponseKey        = "snapshots"
	logMessageSnapshotLoad      = "snapshot load failure"
	logMessageRenderFailure     = "report render failure"
	logMessageSnapshotListing   = "snapshot listing failure"
	ginModeRelease              = "release"
	defaultSnapshotListLimit    = 50
)

// SnapshotStore exposes the stored snapshots the handlers read from.
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context) (audit.Snapshot, error)
	PreviousSnapshot(ctx context.Context, snapshot audit.Snapshot) (audit.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]storage.SnapshotSummary, error)
}

// ReportService renders the HTML pages served by the router.
type ReportService interface {
	RenderDiffPage(diff audit.DiffResult) (string, error)
	RenderViewsPage(views audit.RelationshipViews) (string, error)
}

// EmbeddedReportService implements ReportService by delegating to the report package.
type EmbeddedReportService struct{}

// RenderDiffPage uses report.RenderDiffPage to produce the HTML output.
func (EmbeddedReportService) RenderDiffPage(diff audit.DiffResult) (string, error) {
	return report.RenderDiffPage(diff)
}

// RenderViewsPage uses report.RenderViewsPage to produce the HTML output.
func (EmbeddedReportService) RenderViewsPage(views audit.RelationshipViews) (string, error) {
	return report.RenderViewsPage(views)
}

// RouterConfig configures the HTTP routing for audit report requests.
type RouterConfig struct {
	Store   SnapshotStore
	Service ReportService
	Logger  *zap.Logger
}

// NewRouter constructs a Gin engine configured with the report, snapshot
// listing, and health handlers.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	if configuration.Store == nil {
		return nil, errors.New("router requires a snapshot store")
	}
	service := configuration.Service
	if service == nil {
		service = EmbeddedReportService{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := auditHandler{
		store:   configuration.Store,
		service: service,
		logger:  logger,
	}

	engine.GET(reportRoutePath, handler.serveReport)
	engine.GET(snapshotListRoutePath, handler.serveSnapshotList)
	engine.GET(healthRoutePath, handler.healthStatus)

	return engine, nil
}

type auditHandler struct {
	store   SnapshotStore
	service ReportService
	logger  *zap.Logger
}

// serveReport renders the diff between the latest snapshot and its
// predecessor, falling back to the relationship views page when only a
// single snapshot has been recorded.
func (handler auditHandler) serveReport(ginContext *gin.Context) {
	requestContext := ginContext.Request.Context()

	latestSnapshot, latestErr := handler.store.LatestSnapshot(requestContext)
	if latestErr != nil {
		if errors.Is(latestErr, storage.ErrSnapshotNotFound) {
			ginContext.String(http.StatusNotFound, errorMessageNoSnapshots)
			return
		}
		handler.logger.Error(logMessageSnapshotLoad, zap.Error(latestErr))
		ginContext.String(http.StatusInternalServerError, errorMessageSnapshotLoad)
		return
	}

	previousSnapshot, previousErr := handler.store.PreviousSnapshot(requestContext, latestSnapshot)
	if previousErr != nil {
		if !errors.Is(previousErr, storage.ErrSnapshotNotFound) {
			handler.logger.Error(logMessageSnapshotLoad, zap.Error(previousErr))
			ginContext.String(http.StatusInternalServerError, errorMessageSnapshotLoad)
			return
		}
		pageHTML, renderErr := handler.service.RenderViewsPage(audit.ComputeViews(latestSnapshot))
		if renderErr != nil {
			handler.logger.Error(logMessageRenderFailure, zap.Error(renderErr))
			ginContext.String(http.StatusInternalServerError, errorMessageRenderFailure)
			return
		}
		ginContext.Data(http.StatusOK, htmlContentType, []byte(pageHTML))
		return
	}

	pageHTML, renderErr := handler.service.RenderDiffPage(audit.ComputeDiff(previousSnapshot, latestSnapshot))
	if renderErr != nil {
		handler.logger.Error(logMessageRenderFailure, zap.Error(renderErr))
		ginContext.String(http.StatusInternalServerError, errorMessageRenderFailure)
		return
	}
	ginContext.Data(http.StatusOK, htmlContentType, []byte(pageHTML))
}

func (handler auditHandler) serveSnapshotList(ginContext *gin.Context) {
	summaries, listErr := handler.store.ListSnapshots(ginContext.Request.Context(), defaultSnapshotListLimit)
	if listErr != nil {
		handler.logger.Error(logMessageSnapshotListing, zap.Error(listErr))
		ginContext.String(http.StatusInternalServerError, errorMessageSnapshotListing)
		return
	}
	ginContext.JSON(http.StatusOK, map[string][]storage.SnapshotSummary{snapshotsResponseKey: summaries})
}

func (handler auditHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}
