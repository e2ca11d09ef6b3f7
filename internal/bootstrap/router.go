package bootstrap

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	httpapi "github.com/umlcraft/umlcraft-backend/internal/api/http"
	"github.com/umlcraft/umlcraft-backend/internal/api/http/middleware"
	"github.com/umlcraft/umlcraft-backend/internal/diagrams"
	"github.com/umlcraft/umlcraft-backend/internal/preview"
	"github.com/umlcraft/umlcraft-backend/internal/projects"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	DB          *pgxpool.Pool
	// Auth is either auth.FirebaseAuth(...) or auth.OptionalUser() in
	// dev mode.
	Auth    gin.HandlerFunc
	Preview *preview.Manager
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()
	r.Use(cors.Default())

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.RequestIDMiddleware())
	api.Use(dep.Auth)

	projectRepo := projects.NewRepo(dep.DB)
	diagramRepo := diagrams.NewRepo(dep.DB)

	projectsGroup := api.Group("/projects")
	projects.Register(projectsGroup, projectRepo)
	diagrams.RegisterProjectRoutes(projectsGroup, diagramRepo)

	preview.Register(api.Group("/preview"), dep.Preview)

	return r
}
