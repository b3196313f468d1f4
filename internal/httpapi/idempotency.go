package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// IdempotencyKeyHeader — заголовок с ключом идемпотентности.
const IdempotencyKeyHeader = "Idempotency-Key"

const defaultIdempotencyTTL = 24 * time.Hour

// panicResponse сохраняется под ключом, если обработчик запаниковал.
var panicResponse = mustJSON(errorResponse{Error: errorPayload{Type: "internal_error", Message: "internal server error"}})

// bodyRecorder копирует тело ответа, чтобы сохранить его под ключом.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotency повторяет сохранённый ответ для уже обработанного ключа.
// Запрос без заголовка обрабатывается как обычно.
func idempotency(repo domain.IdempotencyRepository, ttl time.Duration, now func() time.Time, logger *log.Entry) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
		if repo == nil || key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWithError(c, errInvalidRequest)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		record, err := repo.CreateProcessing(key, requestHash(c.Request.Method, c.Request.URL.Path, body), now().UTC().Add(ttl))
		if err != nil {
			replayIdempotency(c, err, record, logger)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		defer func() {
			// Паника обработчика не должна оставить ключ в processing до истечения TTL.
			if r := recover(); r != nil {
				if err := repo.MarkFailed(key, panicResponse, http.StatusInternalServerError); err != nil {
					logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key after panic")
				}
				panic(r)
			}
		}()
		c.Next()

		status := recorder.Status()
		store := repo.MarkDone
		if status >= http.StatusBadRequest {
			store = repo.MarkFailed
		}
		if err := store(key, recorder.body.Bytes(), status); err != nil {
			logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
		}
	}
}

func replayIdempotency(c *gin.Context, createErr error, record domain.IdempotencyRecord, logger *log.Entry) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		abortWithError(c, createErr)
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: errorPayload{
				Type:    "conflict",
				Message: "request with the same idempotency key is already processing",
			}})
			return
		}
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		c.Header("Idempotent-Replayed", "true")
		c.Data(status, "application/json; charset=utf-8", record.ResponseBody)
		c.Abort()
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		abortWithError(c, createErr)
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
