// Package api is the HTTP surface: a gin server exposing the memory
// operations under /api/v1, bearer-token project auth, and the uniform
// {data, errno, errmsg} envelope.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope wraps every response body. Errno 0 means success; non-zero
// mirrors the HTTP status.
type Envelope struct {
	Data   any    `json:"data"`
	Errno  int    `json:"errno"`
	Errmsg string `json:"errmsg"`
}

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Data: data})
}

func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	c.JSON(status, Envelope{Errno: status, Errmsg: msg})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Envelope{Errno: http.StatusBadRequest, Errmsg: msg})
}

// IDResponse carries a single created or affected id.
type IDResponse struct {
	ID string `json:"id"`
}

// ChatModalResponse is returned by blob insertion: the stored blob plus
// the optional synchronous flush outcome.
type ChatModalResponse struct {
	BlobID  string `json:"blob_id"`
	EntryID string `json:"buffer_entry_id"`
	Flush   any    `json:"flush_result,omitempty"`
}
