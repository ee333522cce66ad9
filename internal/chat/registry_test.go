package chat_test

import (
	"context"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buddypark.app/relay/internal/chat"
	"buddypark.app/relay/internal/model"
)

var _ = Describe("Registry", func() {
	var (
		ctx      context.Context
		store    *memStore
		sender   *mockTurnSender
		registry *chat.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemStore()
		sender = &mockTurnSender{}
		registry = chat.NewRegistry(store, sender, testConfig())
		DeferCleanup(registry.Close)
	})

	It("returns the same reconciler for a conversation", func() {
		a, err := registry.Session(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		b, err := registry.Session(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeIdenticalTo(b))
		Expect(store.loadCount()).To(Equal(1))
	})

	It("does not hold up other conversations while one is loading", func() {
		release := store.holdLoads("slow")
		slow := make(chan *chat.Reconciler, 1)
		go func() {
			defer GinkgoRecover()
			s, err := registry.Session(ctx, "slow")
			Expect(err).NotTo(HaveOccurred())
			slow <- s
		}()

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			_, err := registry.Session(ctx, "fast")
			Expect(err).NotTo(HaveOccurred())
		}()
		Eventually(done).Should(BeClosed())
		Consistently(slow, "50ms").ShouldNot(Receive())

		release()
		Eventually(slow).Should(Receive(Not(BeNil())))
	})

	It("shares one load between concurrent first uses of a conversation", func() {
		release := store.holdLoads("c1")
		sessions := make(chan *chat.Reconciler, 2)
		for range 2 {
			go func() {
				defer GinkgoRecover()
				s, err := registry.Session(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				sessions <- s
			}()
		}
		Consistently(sessions, "50ms").ShouldNot(Receive())

		release()
		var a, b *chat.Reconciler
		Eventually(sessions).Should(Receive(&a))
		Eventually(sessions).Should(Receive(&b))
		Expect(a).To(BeIdenticalTo(b))
		Expect(store.loadCount()).To(Equal(1))
	})

	It("folds a growing reply into one assistant message", func() {
		_, err := registry.Send(ctx, "c1", "你好")
		Expect(err).NotTo(HaveOccurred())

		for _, text := range []string{"你好呀", "你好呀|今天好", "你好呀|今天好|天气很好"} {
			_, changed, err := registry.DeliverForeground(ctx, notification("c1", "r1", text))
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
		}

		msgs, err := registry.Messages(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[1].Role).To(Equal(model.RoleAssistant))
		Expect(utf8.RuneCountInString(msgs[1].Content)).To(Equal(12))
		Expect(msgs[1].ReplyID).To(Equal("r1"))
	})

	It("keeps the longest reply when fragments arrive out of order", func() {
		_, _ = registry.Send(ctx, "c1", "你好")

		for _, text := range []string{"你好呀|今天好", "你好呀", "你好呀|今天好|天气很好", "你好呀|今天好"} {
			_, _, err := registry.DeliverForeground(ctx, notification("c1", "r1", text))
			Expect(err).NotTo(HaveOccurred())
		}

		msgs, _ := registry.Messages(ctx, "c1")
		Expect(contents(msgs)).To(Equal([]string{"user:你好", "assistant:你好呀|今天好|天气很好"}))
	})

	It("shows only the new user message when the user moves on mid-reply", func() {
		_, _ = registry.Send(ctx, "c1", "你好")
		_, _, err := registry.DeliverForeground(ctx, notification("c1", "r1", "你好呀"))
		Expect(err).NotTo(HaveOccurred())
		_, _, err = registry.DeliverForeground(ctx, notification("c1", "r1", "你好呀|今天好"))
		Expect(err).NotTo(HaveOccurred())

		// The relay abandons r1 before its length-12 fragment.
		update, err := registry.Send(ctx, "c1", "再见")
		Expect(err).NotTo(HaveOccurred())
		Expect(update.Kind).To(Equal(chat.UpdateAppended))

		msgs, _ := registry.Messages(ctx, "c1")
		Expect(contents(msgs)).To(Equal([]string{"user:你好", "assistant:你好呀|今天好", "user:再见"}))
		Eventually(func() []string { return contents(sender.lastCall()) }).
			Should(Equal([]string{"user:你好", "assistant:你好呀|今天好", "user:再见"}))
	})

	Describe("background delivery", func() {
		It("builds the session lazily from the stored history", func() {
			store.seed("c1", userMsg("u1", "hi"), assistantMsg("a1", "hey"), userMsg("u2", "what's up"))

			update, changed, err := registry.DeliverBackground(ctx, notification("c1", "r2", "not much"))
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(update.NewContent).To(BeTrue())

			Expect(contents(store.stored("c1"))).To(Equal([]string{
				"user:hi", "assistant:hey", "user:what's up", "assistant:not much",
			}))
		})

		It("merges with what the foreground process wrote", func() {
			foreground := chat.NewRegistry(store, sender, testConfig())
			DeferCleanup(foreground.Close)

			_, err := foreground.Send(ctx, "c1", "hi")
			Expect(err).NotTo(HaveOccurred())
			_, _, err = registry.DeliverBackground(ctx, notification("c1", "r1", "hello"))
			Expect(err).NotTo(HaveOccurred())

			Expect(foreground.OnForeground(ctx)).To(Succeed())
			msgs, _ := foreground.Messages(ctx, "c1")
			Expect(contents(msgs)).To(Equal([]string{"user:hi", "assistant:hello"}))

			// A late foreground copy of the same fragment is a no-op.
			_, changed, err := foreground.DeliverForeground(ctx, notification("c1", "r1", "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})
	})

	It("uses the body when full-text is missing", func() {
		_, _, err := registry.DeliverForeground(ctx, []byte(`{"body":"hello","conversation-id":"c1","reply-id":"r1"}`))
		Expect(err).NotTo(HaveOccurred())

		msgs, _ := registry.Messages(ctx, "c1")
		Expect(contents(msgs)).To(Equal([]string{"assistant:hello"}))
	})

	DescribeTable("rejects unusable notifications",
		func(payload string) {
			_, _, err := registry.DeliverForeground(ctx, []byte(payload))
			Expect(err).To(MatchError(chat.ErrInvalidNotification))
		},
		Entry("not json", `hello`),
		Entry("no conversation", `{"full-text":"hi"}`),
		Entry("no text", `{"conversation-id":"c1","body":"  "}`),
	)

	It("drops the notification when the store fails", func() {
		_, _ = registry.Send(ctx, "c1", "hi")
		store.failOnce(errStoreDown)

		_, changed, err := registry.DeliverForeground(ctx, notification("c1", "r1", "hello"))
		Expect(err).To(MatchError(errStoreDown))
		Expect(changed).To(BeFalse())

		msgs, _ := registry.Messages(ctx, "c1")
		Expect(contents(msgs)).To(Equal([]string{"user:hi"}))
	})

	It("refuses new sessions once closed", func() {
		registry.Close()
		_, err := registry.Session(ctx, "c1")
		Expect(err).To(MatchError(chat.ErrClosed))
	})
})
