package middleware

import (
	"github.com/gin-gonic/gin"
)

type AccessRecorder interface {
	Record(userID *uint64, action, ip, userAgent string)
}

// AccessLog records "METHOD path" for every request after it ran, so a
// login that just succeeded is still anonymous here.
func AccessLog(rec AccessRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		var uid *uint64
		if id, ok := IdentityFrom(c); ok {
			v := id.UserID
			uid = &v
		}
		rec.Record(uid, c.Request.Method+" "+c.Request.URL.Path, c.ClientIP(), c.Request.UserAgent())
	}
}
