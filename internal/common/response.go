package common

import (
	"crypto/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// FailWithData is Fail with a payload, used when the client still renders something (e.g. an error answer).
func FailWithData(c *gin.Context, httpStatus int, code int, msg string, data any) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    data,
	})
}

func NewULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
