package api

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pjgq/relay/pkg/sse"
	"github.com/pjgq/relay/pkg/stream"
	"github.com/pjgq/relay/pkg/upstream"
	"github.com/pjgq/relay/pkg/utils"
	"github.com/pjgq/relay/pkg/worker"
)

type streamRequest struct {
	Prompt string `json:"prompt"`
	BotID  string `json:"bot_id"`
}

// handleStream relays one chat prompt to the upstream API and streams the
// reconstructed reply back as SSE frames.
func (s *Server) handleStream(c *fiber.Ctx) error {
	userID := authedUser(c)

	var req streamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "prompt is required"})
	}

	// History is loaded before the prompt is saved: the upstream client
	// appends the prompt as its own question message, so a history that
	// already ended with it would send the prompt twice.
	history, err := s.store.History(c.Context(), userID, s.config.HistoryLimit)
	if err != nil {
		s.logger.Error("failed to load history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	// Saved synchronously so the user turn is on record before streaming
	// begins, even if the client disconnects mid-stream.
	if _, err := s.store.SaveTurn(c.Context(), userID, "user", req.Prompt); err != nil {
		s.logger.Error("failed to save prompt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	streamID := uuid.NewString()

	// Acquire the stream slot: at most one pipeline runs at a time and
	// concurrent requests queue here in arrival order.
	select {
	case s.streamSlot <- struct{}{}:
	case <-c.Context().Done():
		return nil
	}

	setSSEHeaders(c)

	// Use context.Background() instead of c.Context() because fasthttp
	// recycles its RequestCtx after the handler returns, but the pipeline
	// runs asynchronously and needs the upstream connection to stay open.
	upstreamCtx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	body, err := s.opener.OpenStream(upstreamCtx, &upstream.ChatRequest{
		UserID:  userID,
		Prompt:  req.Prompt,
		BotID:   req.BotID,
		History: history,
	})
	if err != nil {
		cancel()
		<-s.streamSlot
		s.logger.Error("failed to open upstream stream",
			zap.String("stream_id", streamID),
			zap.String("user_id", userID),
			zap.Error(err),
		)

		// The response is already committed as a stream, so the failure
		// is reported in-band: one error frame, then the sentinel.
		var buf bytes.Buffer
		w := sse.NewWriter(&buf)
		w.WriteError("upstream request failed")
		w.WriteDone()
		return c.Send(buf.Bytes())
	}

	pr, pw := io.Pipe()
	go s.runPipeline(upstreamCtx, cancel, streamID, userID, body, pw, start)

	// Set the pipe reader as the body stream with unknown size (-1),
	// which triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// runPipeline drives the decode/filter/dedup pipeline from the upstream
// body into the client pipe, then hands the accumulated reply to the
// worker pool.
func (s *Server) runPipeline(ctx context.Context, cancel context.CancelFunc, streamID, userID string, body io.ReadCloser, pw *io.PipeWriter, start time.Time) {
	defer body.Close()
	defer pw.Close()
	defer cancel()
	defer func() { <-s.streamSlot }()

	pipeline := stream.New(stream.Options{
		MinFragmentLength:   s.config.MinFragmentLength,
		SimilarityThreshold: s.config.SimilarityThreshold,
	}, pw, s.logger)

	full, err := pipeline.Run(body)
	duration := time.Since(start)
	if err != nil {
		// Client disconnects and upstream failures land here; the
		// accumulated partial reply is still persisted below.
		s.logger.Warn("stream ended with error",
			zap.String("stream_id", streamID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	if strings.TrimSpace(full) == "" {
		s.logger.Debug("empty reply, nothing to persist",
			zap.String("user_id", userID),
		)
		return
	}

	s.logger.Info("reply reconstructed",
		zap.String("stream_id", streamID),
		zap.String("user_id", userID),
		zap.String("content_preview", utils.Truncate(full, 80)),
		zap.Duration("duration", duration),
	)

	s.pool.Enqueue(worker.Job{
		UserID:   userID,
		Role:     "assistant",
		Content:  full,
		Duration: duration,
	})
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
}
