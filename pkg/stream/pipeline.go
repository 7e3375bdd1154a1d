package stream

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/pjgq/relay/pkg/sse"
)

// Options holds the pipeline tunables. The dedup constants drifted between
// deployments, so both are configuration rather than hard-coded.
type Options struct {
	// MinFragmentLength is the dedup exact/similarity cutover (runes).
	MinFragmentLength int

	// SimilarityThreshold is the dedup similarity ratio in (0, 1].
	SimilarityThreshold float64
}

// Pipeline decodes one upstream response stream into normalized content
// frames. All state (filter pairing, sent-fragment set, accumulated reply) is
// exclusively owned by the pipeline, which is scoped to a single request and
// discarded when that request ends.
type Pipeline struct {
	filter *Filter
	dedup  *Deduplicator
	writer *sse.Writer
	logger *zap.Logger
}

// New creates a Pipeline writing normalized frames to dest.
func New(opts Options, dest io.Writer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		filter: NewFilter(),
		dedup:  NewDeduplicator(opts.MinFragmentLength, opts.SimilarityThreshold),
		writer: sse.NewWriter(dest),
		logger: logger,
	}
}

// Run consumes SSE events from upstream until it is exhausted or fails,
// emitting one content frame per accepted fragment and exactly one terminal
// [DONE] frame on every exit path. An upstream read failure is surfaced as a
// single inline error frame before the sentinel; it does not abort the
// response already in flight.
//
// The returned string is the full assistant reply accumulated so far. It is
// valid on every exit path, including errors and client disconnects, so the
// caller can persist whatever was delivered.
func (p *Pipeline) Run(upstream io.Reader) (string, error) {
	var full strings.Builder

	// The sentinel must go out even when the upstream errors mid-stream.
	// A write failure here means the client is already gone.
	defer func() {
		if err := p.writer.WriteDone(); err != nil {
			p.logger.Debug("client gone before done frame", zap.Error(err))
		}
	}()

	reader := sse.NewReader(upstream)

	for {
		ev, err := reader.Next()
		if err != nil {
			// Upstream transport failure: report inline, terminate cleanly.
			if werr := p.writer.WriteError(err.Error()); werr != nil {
				return full.String(), fmt.Errorf("writing error frame: %w", werr)
			}
			return full.String(), fmt.Errorf("reading upstream stream: %w", err)
		}
		if ev == nil {
			return full.String(), nil
		}

		fragment, ok := p.filter.Extract(ev.Type, ev.Data)
		if !ok {
			continue
		}

		if !p.dedup.Accept(fragment) {
			p.logger.Debug("duplicate fragment suppressed",
				zap.Int("length", len(fragment)),
			)
			continue
		}

		full.WriteString(fragment)

		if err := p.writer.WriteContent(fragment); err != nil {
			// Client disconnected. Hand back what was accumulated so the
			// caller can persist the partial reply.
			return full.String(), fmt.Errorf("writing content frame: %w", err)
		}
	}
}
