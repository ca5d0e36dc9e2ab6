package security

import (
	"crypto/subtle"
	"strings"

	"PPresence/tools/errs"
	tsec "PPresence/tools/security"

	"github.com/gin-gonic/gin"
)

const HeaderInternalKey = "X-Internal-Key"

// InternalKey guards service-to-service routes. The key is read from
// X-Internal-Key or, failing that, from "Authorization: Bearer <key>". An
// empty key disables the check.
func InternalKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := strings.TrimSpace(c.GetHeader(HeaderInternalKey))
		// 兼容 Authorization: Bearer xxx
		if got == "" {
			got = tsec.StripBearer(c.GetHeader("Authorization"))
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			e := errs.ErrUnauthorized.WithDetail("internal key")
			c.AbortWithStatusJSON(e.HTTPStatus(), e)
			return
		}
		c.Next()
	}
}
