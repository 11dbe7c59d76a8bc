package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/canon/internal/apperr"
)

// statusClientClosed is the nginx convention for a request the client gave up on.
const statusClientClosed = 499

// fail renders err as {"code","error","details"}. Unknown errors become a
// generic 500 and are logged with their cause.
func (s *Server) fail(c *gin.Context, err error) {
	if ic := apperr.AsInsufficientCredits(err); ic != nil {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"code":      apperr.CodeInsufficientCredits,
			"error":     ic.Error(),
			"needed":    ic.Needed,
			"available": ic.Available,
			"shortfall": ic.Shortfall(),
		})
		return
	}

	if errors.Is(err, context.Canceled) {
		c.AbortWithStatus(statusClientClosed)
		return
	}

	ae := apperr.As(err)
	if ae == nil {
		ae = apperr.Internal(err)
	}
	status := ae.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "code", ae.Code, "err", err)
	}
	c.JSON(status, ae)
}
