package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"buddypark.app/relay/common/llm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const sseBody = "data: {\"choices\":[{\"delta\":{\"content\":\"Hi|there\"}}]}\n\ndata: [DONE]\n\n"

var _ = Describe("NewCompleter", func() {
	It("requires an API key", func() {
		_, err := llm.NewCompleter(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(MatchError(ContainSubstring("API key is required")))
	})

	It("rejects unknown providers", func() {
		_, err := llm.NewCompleter(llm.Config{Provider: "mystery", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	DescribeTable("applies default models",
		func(provider, expected string) {
			c, err := llm.NewCompleter(llm.Config{Provider: provider, APIKey: "k"})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Model()).To(Equal(expected))
		},
		Entry("openai", llm.ProviderOpenAI, "gpt-4o-mini"),
		Entry("anthropic", llm.ProviderAnthropic, "claude-sonnet-4-5-20250514"),
		Entry("empty provider falls back to openai", "", "gpt-4o-mini"),
	)
})

var _ = Describe("Stream", func() {
	var (
		server   *httptest.Server
		received map[string]any
		path     string
	)

	BeforeEach(func() {
		received = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = fmt.Fprint(w, sseBody)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the raw openai event stream", func() {
		c, err := llm.NewCompleter(llm.Config{
			Provider:    llm.ProviderOpenAI,
			APIKey:      "test",
			BaseURL:     server.URL + "/v1/",
			Model:       "gpt-test",
			Temperature: llm.Temp(0.5),
		})
		Expect(err).NotTo(HaveOccurred())

		body, err := c.Stream(context.Background(), llm.StreamRequest{
			SystemPrompt: "be nice",
			Messages:     []llm.Message{{Role: "user", Content: "你好"}},
		})
		Expect(err).NotTo(HaveOccurred())
		defer body.Close()

		raw, err := io.ReadAll(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(Equal(sseBody))

		Expect(path).To(Equal("/v1/chat/completions"))
		Expect(received["stream"]).To(BeTrue())
		Expect(received["model"]).To(Equal("gpt-test"))
		Expect(received["messages"]).To(HaveLen(2))
	})

	It("returns the raw anthropic event stream", func() {
		c, err := llm.NewCompleter(llm.Config{
			Provider: llm.ProviderAnthropic,
			APIKey:   "test",
			BaseURL:  server.URL + "/",
		})
		Expect(err).NotTo(HaveOccurred())

		body, err := c.Stream(context.Background(), llm.StreamRequest{
			SystemPrompt: "be nice",
			Messages: []llm.Message{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
				{Role: "user", Content: "how are you"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		defer body.Close()

		Expect(path).To(Equal("/v1/messages"))
		Expect(received["stream"]).To(BeTrue())
		Expect(received["messages"]).To(HaveLen(3))
		Expect(received["system"]).NotTo(BeNil())
	})
})

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ = Describe("IsTimeout", func() {
	DescribeTable("classifies upstream errors",
		func(err error, expected bool) {
			Expect(llm.IsTimeout(err)).To(Equal(expected))
		},
		Entry("nil", nil, false),
		Entry("deadline exceeded", context.DeadlineExceeded, true),
		Entry("wrapped deadline", fmt.Errorf("openai stream: %w", context.DeadlineExceeded), true),
		Entry("net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true),
		Entry("gateway timeout status", &llm.StatusError{Provider: "openai", StatusCode: 504}, true),
		Entry("server error status", &llm.StatusError{Provider: "openai", StatusCode: 500}, false),
		Entry("cancelled", context.Canceled, false),
		Entry("other", errors.New("boom"), false),
	)
})
