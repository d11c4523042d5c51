package handler

import (
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"cfdb/internal/apperr"
	"cfdb/internal/service"
	"cfdb/pkg/log"
)

// streamChunkSize bounds per-request relay memory.
const streamChunkSize = 64 * 1024

// DataHandler serves file bytes through the streaming gateway.
type DataHandler struct {
	streamService service.StreamService
}

// NewDataHandler creates a DataHandler.
func NewDataHandler(streamService service.StreamService) *DataHandler {
	return &DataHandler{streamService: streamService}
}

// Download handles GET /data/:dcc/:local_id.
func (h *DataHandler) Download(c *gin.Context) {
	dcc := c.Param("dcc")
	localID := c.Param("local_id")
	rangeHeader := c.GetHeader("Range")
	log.Infof("[DataHandler] download request for %s/%s, range: %q", dcc, localID, rangeHeader)

	upstream, err := h.streamService.Open(c.Request.Context(), dcc, localID, rangeHeader, bearerToken(c))
	if err != nil {
		log.Warnf("[DataHandler] download for %s/%s failed: %v", dcc, localID, err)
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
		return
	}
	defer upstream.Body.Close()

	if upstream.ContentType != "" {
		c.Header("Content-Type", upstream.ContentType)
	} else {
		c.Header("Content-Type", "application/octet-stream")
	}
	if upstream.ContentLength != "" {
		c.Header("Content-Length", upstream.ContentLength)
	}
	if upstream.ContentRange != "" {
		c.Header("Content-Range", upstream.ContentRange)
	}
	c.Header("Accept-Ranges", "bytes")
	c.Status(upstream.Status)

	// Relay in bounded chunks. A broken client connection shows up as a
	// write error; the deferred close releases the upstream either way.
	buf := make([]byte, streamChunkSize)
	if _, err := io.CopyBuffer(c.Writer, upstream.Body, buf); err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warnf("[DataHandler] relay for %s/%s ended early: %v", dcc, localID, err)
		}
	}
}

// bearerToken extracts a Bearer token from the Authorization header, or "".
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
