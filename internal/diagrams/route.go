package diagrams

import "github.com/gin-gonic/gin"

func RegisterProjectRoutes(projectsGroup *gin.RouterGroup, repo *Repo) {
	h := &handler{repo: repo}

	projectsGroup.POST("/:public_id/diagrams", h.createDiagram)
	projectsGroup.GET("/:public_id/diagrams", h.listDiagrams)
	projectsGroup.GET("/:public_id/diagrams/:diagram_id", h.getDiagram)

	projectsGroup.GET("/:public_id/diagrams/:diagram_id/versions", h.listVersions)
	projectsGroup.GET("/:public_id/diagrams/:diagram_id/versions/next", h.nextVersion)
	projectsGroup.GET("/:public_id/diagrams/:diagram_id/versions/:number", h.getVersion)
	projectsGroup.POST("/:public_id/diagrams/:diagram_id/versions", h.createVersion)
	projectsGroup.PUT("/:public_id/diagrams/:diagram_id/versions/:number/description", h.attachDescription)
}
