package chatcmder_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	chatcmder "github.com/pjgq/relay/cmd/relay/chat"
)

var _ = Describe("NewChatCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := chatcmder.NewChatCmd()
		Expect(cmd.Use).To(Equal("chat"))
	})

	It("has --target flag with default value", func() {
		cmd := chatcmder.NewChatCmd()
		flag := cmd.Flags().Lookup("target")
		Expect(flag).NotTo(BeNil())
		Expect(flag.Shorthand).To(Equal("t"))
		Expect(flag.DefValue).To(Equal("http://localhost:8080"))
	})

	It("has --bot-id flag", func() {
		cmd := chatcmder.NewChatCmd()
		flag := cmd.Flags().Lookup("bot-id")
		Expect(flag).NotTo(BeNil())
	})

	It("has --plain flag defaulting to false", func() {
		cmd := chatcmder.NewChatCmd()
		flag := cmd.Flags().Lookup("plain")
		Expect(flag).NotTo(BeNil())
		Expect(flag.DefValue).To(Equal("false"))
	})
})

var _ = Describe("Relay stream format", func() {
	// These tests validate the request/frame JSON formats used between the
	// chat command and the relay's stream endpoint.

	Describe("request serialization", func() {
		type streamRequest struct {
			Prompt string `json:"prompt"`
			BotID  string `json:"bot_id,omitempty"`
		}

		It("serializes a basic request correctly", func() {
			data, err := json.Marshal(streamRequest{Prompt: "Hello!"})
			Expect(err).NotTo(HaveOccurred())

			var parsed map[string]any
			Expect(json.Unmarshal(data, &parsed)).To(Succeed())
			Expect(parsed["prompt"]).To(Equal("Hello!"))
			Expect(parsed).NotTo(HaveKey("bot_id"))
		})

		It("includes the bot ID override when set", func() {
			data, err := json.Marshal(streamRequest{Prompt: "Hello!", BotID: "7372"})
			Expect(err).NotTo(HaveOccurred())

			var parsed map[string]any
			Expect(json.Unmarshal(data, &parsed)).To(Succeed())
			Expect(parsed["bot_id"]).To(Equal("7372"))
		})
	})

	Describe("frame parsing", func() {
		type streamFrame struct {
			Content string `json:"content"`
			Error   string `json:"error"`
		}

		It("parses a content frame", func() {
			var frame streamFrame
			err := json.Unmarshal([]byte(`{"content":"Hello"}`), &frame)
			Expect(err).NotTo(HaveOccurred())
			Expect(frame.Content).To(Equal("Hello"))
			Expect(frame.Error).To(BeEmpty())
		})

		It("parses an error frame", func() {
			var frame streamFrame
			err := json.Unmarshal([]byte(`{"error":"upstream request failed"}`), &frame)
			Expect(err).NotTo(HaveOccurred())
			Expect(frame.Error).To(Equal("upstream request failed"))
		})

		It("reconstructs the reply from multiple frames without separators", func() {
			frames := []string{
				`{"content":"The answer "}`,
				`{"content":"is "}`,
				`{"content":"42."}`,
			}

			var reply strings.Builder
			for _, raw := range frames {
				var frame streamFrame
				Expect(json.Unmarshal([]byte(raw), &frame)).To(Succeed())
				reply.WriteString(frame.Content)
			}

			Expect(reply.String()).To(Equal("The answer is 42."))
		})
	})
})

var _ = Describe("Streaming relay interaction", func() {
	It("consumes an event stream from a mock relay server", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/stream"))
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer tok-alice"))

			var req map[string]any
			Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
			Expect(req["prompt"]).To(Equal("hello"))

			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			frames := []string{
				`{"content":"Hi"}`,
				`{"content":" there!"}`,
			}
			for _, frame := range frames {
				fmt.Fprintf(w, "data: %s\n\n", frame)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		defer server.Close()

		body, err := json.Marshal(map[string]string{"prompt": "hello"})
		Expect(err).NotTo(HaveOccurred())

		req, err := http.NewRequest(http.MethodPost, server.URL+"/stream", strings.NewReader(string(body)))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer tok-alice")

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		type streamFrame struct {
			Content string `json:"content"`
			Error   string `json:"error"`
		}

		var reply strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			payload, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			if payload == "[DONE]" {
				break
			}

			var frame streamFrame
			Expect(json.Unmarshal([]byte(payload), &frame)).To(Succeed())
			Expect(frame.Error).To(BeEmpty())
			reply.WriteString(frame.Content)
		}
		Expect(scanner.Err()).NotTo(HaveOccurred())

		Expect(reply.String()).To(Equal("Hi there!"))
	})
})
