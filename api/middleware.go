package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pjgq/relay/pkg/storage"
)

// localUserID is the fiber locals key the auth middleware stores the
// authenticated user ID under.
const localUserID = "user_id"

// requireAuth verifies the Bearer token and stores the user ID in locals.
// Rejections happen before any streaming begins.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "missing bearer token"})
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "invalid or expired token"})
	}

	c.Locals(localUserID, userID)

	return c.Next()
}

// logRequests records each API call to the request log and the logger.
func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	duration := time.Since(start)

	userID, _ := c.Locals(localUserID).(string)
	status := c.Response().StatusCode()
	endpoint := c.Path()

	s.logger.Debug("request handled",
		zap.String("endpoint", endpoint),
		zap.String("user_id", userID),
		zap.Int("status", status),
		zap.Duration("duration", duration),
	)

	// Request log failures never fail the request itself.
	logErr := s.store.LogRequest(context.Background(), storage.RequestLog{
		UserID:   userID,
		Endpoint: endpoint,
		Status:   status,
		Duration: duration,
	})
	if logErr != nil {
		s.logger.Warn("failed to record request log", zap.Error(logErr))
	}

	return err
}

// authedUser returns the user ID stored by requireAuth.
func authedUser(c *fiber.Ctx) string {
	userID, _ := c.Locals(localUserID).(string)
	return userID
}
