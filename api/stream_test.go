package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pjgq/relay/pkg/auth"
	"github.com/pjgq/relay/pkg/logger"
	"github.com/pjgq/relay/pkg/storage"
	"github.com/pjgq/relay/pkg/storage/inmemory"
	"github.com/pjgq/relay/pkg/upstream"
	"github.com/pjgq/relay/pkg/worker"
)

// fakeOpener serves canned SSE payloads and tracks how many streams are
// being read concurrently.
type fakeOpener struct {
	mu       sync.Mutex
	payload  string
	err      error
	readGap  time.Duration
	requests []*upstream.ChatRequest

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeOpener) OpenStream(_ context.Context, req *upstream.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	payload, err, gap := f.payload, f.err, f.readGap
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return &trackedReader{
		reader: strings.NewReader(payload),
		opener: f,
		gap:    gap,
	}, nil
}

func (f *fakeOpener) recorded() []*upstream.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*upstream.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// trackedReader counts itself as active between the first Read and EOF.
type trackedReader struct {
	reader  *strings.Reader
	opener  *fakeOpener
	gap     time.Duration
	started bool
	done    bool
}

func (t *trackedReader) Read(p []byte) (int, error) {
	if !t.started {
		t.started = true
		active := t.opener.active.Add(1)
		for {
			peak := t.opener.maxActive.Load()
			if active <= peak || t.opener.maxActive.CompareAndSwap(peak, active) {
				break
			}
		}
	}

	if t.gap > 0 {
		time.Sleep(t.gap)
	}
	// Feed one byte at a time so concurrent streams would interleave if
	// nothing serialized them.
	if len(p) > 1 {
		p = p[:1]
	}

	n, err := t.reader.Read(p)
	if err == io.EOF && !t.done {
		t.done = true
		t.opener.active.Add(-1)
	}

	return n, err
}

func (t *trackedReader) Close() error {
	if t.started && !t.done {
		t.done = true
		t.opener.active.Add(-1)
	}
	return nil
}

// frames splits an SSE response body into its non-empty frames.
func frames(body string) []string {
	var out []string
	for _, f := range strings.Split(body, "\n\n") {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

var _ = Describe("POST /stream", func() {
	const answerStream = "data: {\"content\":\"Hello\"}\n\n" +
		"data: {\"content\":\"Hello\"}\n\n" +
		"data: {\"msg_type\":\"generate_answer_finish\"}\n\n"

	var (
		server *Server
		store  *inmemory.Store
		opener *fakeOpener
		pool   *worker.Pool
		token  string
	)

	BeforeEach(func() {
		store = inmemory.New()
		opener = &fakeOpener{payload: answerStream}

		var err error
		pool, err = worker.NewPool(&worker.Config{
			Store:  store,
			Logger: logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		tokens := auth.NewTokenIssuer("test-secret", time.Minute)
		server = NewServer(Config{
			ListenAddr:   ":0",
			HistoryLimit: 20,
		}, store, tokens, opener, pool, logger.Nop())

		resp := doJSON(server, http.MethodPost, "/register", "", map[string]string{
			"user_id":  "alice",
			"password": "hunter2",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		token = decodeJSON(resp)["access_token"].(string)
	})

	stream := func(prompt string) (*http.Response, string) {
		resp := doJSON(server, http.MethodPost, "/stream", token, map[string]string{
			"prompt": prompt,
		})
		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return resp, string(raw)
	}

	It("rejects unauthenticated requests before streaming", func() {
		resp := doJSON(server, http.MethodPost, "/stream", "", map[string]string{"prompt": "hi"})
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("rejects an empty prompt", func() {
		resp := doJSON(server, http.MethodPost, "/stream", token, map[string]string{"prompt": "  "})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("streams the deduplicated reply and terminates with the sentinel", func() {
		resp, body := stream("hi there")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

		Expect(frames(body)).To(Equal([]string{
			`data: {"content":"Hello"}`,
			`data: [DONE]`,
		}))
	})

	It("saves the prompt before streaming and the reply after", func() {
		_, _ = stream("hi there")

		turns, err := store.History(context.Background(), "alice", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns[0].Role).To(Equal("user"))
		Expect(turns[0].Content).To(Equal("hi there"))

		Eventually(func() []storage.Turn {
			turns, _ := store.History(context.Background(), "alice", 0)
			return turns
		}).Should(HaveLen(2))

		turns, err = store.History(context.Background(), "alice", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns[1].Role).To(Equal("assistant"))
		Expect(turns[1].Content).To(Equal("Hello"))
	})

	It("sends prior history upstream with the prompt carried separately", func() {
		_, err := store.SaveTurn(context.Background(), "alice", "user", "earlier question")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.SaveTurn(context.Background(), "alice", "assistant", "earlier answer")
		Expect(err).NotTo(HaveOccurred())

		_, _ = stream("hi there")

		requests := opener.recorded()
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Prompt).To(Equal("hi there"))

		// The prompt reaches the upstream only via the Prompt field. A
		// history that already ended with it would make the upstream
		// client send the question twice.
		history := requests[0].History
		Expect(history).To(HaveLen(2))
		Expect(history[0].Content).To(Equal("earlier question"))
		Expect(history[1].Content).To(Equal("earlier answer"))

		// The prompt is still persisted before streaming begins.
		turns, err := store.History(context.Background(), "alice", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns[2].Role).To(Equal("user"))
		Expect(turns[2].Content).To(Equal("hi there"))
	})

	It("reports upstream connect failures in-band", func() {
		opener.err = errors.New("connection refused")

		resp, body := stream("hi there")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(frames(body)).To(Equal([]string{
			`data: {"error":"upstream request failed"}`,
			`data: [DONE]`,
		}))

		// The slot is released, so the next stream proceeds normally.
		opener.err = nil
		_, body = stream("again")
		Expect(frames(body)).To(ContainElement(`data: {"content":"Hello"}`))
	})

	It("does not persist an empty reply", func() {
		opener.payload = "data: {\"msg_type\":\"generate_answer_finish\"}\n\n"

		_, body := stream("hi there")
		Expect(frames(body)).To(Equal([]string{`data: [DONE]`}))

		Consistently(func() int {
			turns, _ := store.History(context.Background(), "alice", 0)
			return len(turns)
		}).Should(Equal(1))
	})

	It("runs at most one stream at a time", func() {
		opener.readGap = time.Millisecond

		var wg sync.WaitGroup
		for range 2 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				resp, body := stream("concurrent prompt")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(frames(body)).To(Equal([]string{
					`data: {"content":"Hello"}`,
					`data: [DONE]`,
				}))
			}()
		}
		wg.Wait()

		Expect(opener.maxActive.Load()).To(Equal(int32(1)))
	})
})
