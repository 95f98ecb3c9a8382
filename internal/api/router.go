package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ravel/photoflow/internal/api/handler"
	"github.com/ravel/photoflow/internal/api/middleware"
	"github.com/ravel/photoflow/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(analyzer *service.AnalyzerService, mode string, cors middleware.CORSConfig) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler()
	processHandler := handler.NewProcessHandler(analyzer)
	photoHandler := handler.NewPhotoHandler(analyzer)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/packages", processHandler.ListPackages)

		v1.POST("/processes", processHandler.CreateProcess)
		v1.GET("/processes", processHandler.ListProcesses)
		v1.GET("/processes/:id", processHandler.GetProcess)
		v1.GET("/processes/:id/sheet", processHandler.GetProcessSheet)
		v1.POST("/processes/:id/retry", processHandler.RetryProcess)
		v1.POST("/processes/:id/reconcile", processHandler.ReconcileProcess)

		v1.GET("/photos/:id/health", photoHandler.PhotoHealth)
	}

	return r
}
