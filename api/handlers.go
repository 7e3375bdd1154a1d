package api

import (
	"errors"
	"math"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pjgq/relay/pkg/auth"
	"github.com/pjgq/relay/pkg/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type registerRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// handleRoot returns the service banner.
func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "relay is running"})
}

// handleRegister creates a user and returns a fresh token.
func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "user_id and password are required"})
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("failed to hash password", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	err = s.store.CreateUser(c.Context(), req.UserID, req.Username, hash)
	if err != nil {
		var exists storage.ExistsError
		if errors.As(err, &exists) {
			return c.Status(fiber.StatusConflict).JSON(errorResponse{Error: "user already exists"})
		}
		s.logger.Error("failed to create user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	return s.issueToken(c, req.UserID)
}

// handleLogin checks credentials and returns a fresh token.
func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}

	user, err := s.store.GetUser(c.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "invalid credentials"})
		}
		s.logger.Error("failed to load user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "invalid credentials"})
	}

	return s.issueToken(c, user.UserID)
}

func (s *Server) issueToken(c *fiber.Ctx, userID string) error {
	token, err := s.tokens.Issue(userID)
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	return c.JSON(tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleProtected greets the authenticated user.
func (s *Server) handleProtected(c *fiber.Ctx) error {
	userID := authedUser(c)

	name := userID
	if user, err := s.store.GetUser(c.Context(), userID); err == nil && user.Username != "" {
		name = user.Username
	}

	return c.JSON(fiber.Map{"message": "Hello, " + name})
}

// handlePutHealthData merges the provided fields into the user's profile.
func (s *Server) handlePutHealthData(c *fiber.Ctx) error {
	var health storage.HealthData
	if err := c.BodyParser(&health); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}

	err := s.store.UpdateHealthData(c.Context(), authedUser(c), health)
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "user not found"})
		}
		s.logger.Error("failed to update health data", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	return c.JSON(fiber.Map{"message": "health data updated"})
}

// healthDataResponse includes the computed BMI when height and weight
// are both present. Height is stored in centimeters.
type healthDataResponse struct {
	storage.HealthData
	BMI *float64 `json:"bmi,omitempty"`
}

// handleGetHealthData returns the stored health fields plus BMI.
func (s *Server) handleGetHealthData(c *fiber.Ctx) error {
	user, err := s.store.GetUser(c.Context(), authedUser(c))
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "user not found"})
		}
		s.logger.Error("failed to load user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	resp := healthDataResponse{HealthData: user.Health}
	if user.Health.Height != nil && user.Health.Weight != nil && *user.Health.Height > 0 {
		meters := *user.Health.Height / 100
		bmi := math.Round(*user.Health.Weight/(meters*meters)*100) / 100
		resp.BMI = &bmi
	}

	return c.JSON(resp)
}

// handleGetHistory returns the user's conversation history, oldest first.
func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	turns, err := s.store.History(c.Context(), authedUser(c), s.config.HistoryLimit)
	if err != nil {
		s.logger.Error("failed to load history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	if turns == nil {
		turns = []storage.Turn{}
	}

	return c.JSON(fiber.Map{"history": turns})
}

// handleClearHistory deletes the user's conversation history.
func (s *Server) handleClearHistory(c *fiber.Ctx) error {
	deleted, err := s.store.ClearHistory(c.Context(), authedUser(c))
	if err != nil {
		s.logger.Error("failed to clear history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	return c.JSON(fiber.Map{"deleted": deleted})
}
