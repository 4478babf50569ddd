package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	maxIdempotencyKeyLen = 128
	finalResponseLocal   = "idempotency.final"
)

// MarkFinal makes Idempotency store the current response whatever its status.
// Handlers call it when a retry must replay the answer instead of running the
// request again, e.g. a payout that was already broadcast.
func MarkFinal(c *fiber.Ctx) {
	c.Locals(finalResponseLocal, true)
}

func markedFinal(c *fiber.Ctx) bool {
	final, _ := c.Locals(finalResponseLocal).(bool)
	return final
}

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency replays the stored response of a previous request carrying the
// same Idempotency-Key header on the same path. The header is optional:
// requests without it pass straight through. Only final answers are stored:
// server errors, lock contention and rate limiting release the key so the
// client can retry with it, unless the handler called MarkFinal.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" || cache == nil {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header is too long")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		cacheKey := idempotencyPrefix + c.Path() + ":" + key

		cached, err := cache.Get(ctx, cacheKey).Result()
		if err == nil {
			if cached == inProgressMarker {
				return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
			}

			var stored storedResponse
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
				return fiber.NewError(fiber.StatusConflict, "duplicate request")
			}

			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) {
					continue
				}
				c.Set(header, value)
			}
			c.Set("Idempotent-Replayed", "true")
			return c.Status(stored.Status).SendString(stored.Body)
		}

		if !errors.Is(err, redis.Nil) {
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		release := func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			cache.Del(cleanupCtx, cacheKey) // best effort cleanup
		}

		if err := c.Next(); err != nil {
			var fe *fiber.Error
			if !errors.As(err, &fe) || !(cacheable(fe.Code) || markedFinal(c)) {
				release()
				return err
			}
			// Rendered by the error handler later; store the same shape.
			persist(cache, cacheKey, key, ttl, storedResponse{
				Status:  fe.Code,
				Body:    errorBody(fe.Message),
				Headers: map[string]string{fiber.HeaderContentType: fiber.MIMEApplicationJSONCharsetUTF8},
			}, logger)
			return err
		}

		status := c.Response().StatusCode()
		if !cacheable(status) && !markedFinal(c) {
			release()
			return nil
		}

		stored := storedResponse{
			Status:  status,
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})
		persist(cache, cacheKey, key, ttl, stored, logger)
		return nil
	}
}

// cacheable reports whether a response is a final answer worth replaying.
func cacheable(status int) bool {
	switch {
	case status >= fiber.StatusInternalServerError:
		return false
	case status == fiber.StatusConflict, status == fiber.StatusTooManyRequests:
		return false
	default:
		return true
	}
}

func persist(cache *redis.Client, cacheKey, key string, ttl time.Duration, stored storedResponse, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := json.Marshal(stored)
	if err == nil {
		err = cache.Set(ctx, cacheKey, payload, ttl).Err()
	}
	if err != nil {
		// The request itself already ran; drop the marker so a retry is not
		// stuck behind it.
		logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
		cache.Del(ctx, cacheKey)
	}
}

func errorBody(message string) string {
	payload, _ := json.Marshal(fiber.Map{"error": message})
	return string(payload)
}
