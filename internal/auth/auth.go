// Package auth supplies the caller identity to the rest of the API. The
// pipeline only needs a bearer credential and an author id; account
// management lives elsewhere.
package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const CtxUserUID = "user_uid"

// UserUID extracts the authenticated user's id from the Gin context.
// Set by FirebaseAuth or OptionalUser.
func UserUID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxUserUID))
}
