package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"buddypark.app/relay/core/config"
	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/store"
)

func request(pairs ...string) []model.RequestMessage {
	msgs := make([]model.RequestMessage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		msgs = append(msgs, model.RequestMessage{Role: model.Role(pairs[i]), Content: pairs[i+1]})
	}
	return msgs
}

// snapshotStoreContract runs the behaviour every backend must share.
func snapshotStoreContract(newStore func() store.SnapshotStore) {
	var (
		ctx context.Context
		s   store.SnapshotStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStore()
	})

	It("returns ErrNotFound for an unknown conversation", func() {
		_, err := s.Get(ctx, "missing")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())

		_, ok, err := s.ReadLastUserMessage(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		_, ok, err = s.ReadLastReply(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("records the turn start and reads back the last user message", func() {
		msgs := request("user", "hi", "assistant", "hello!", "user", "how are you")
		Expect(s.SaveTurnStart(ctx, "c1", msgs, "prompt", "token-1")).To(Succeed())

		last, ok, err := s.ReadLastUserMessage(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(last).To(Equal("how are you"))

		snap, err := s.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ConversationID).To(Equal("c1"))
		Expect(snap.LastRequestMessages).To(Equal(msgs))
		Expect(snap.Prompt).To(Equal("prompt"))
		Expect(snap.RoutingToken).To(Equal("token-1"))
		Expect(snap.SavedAt).NotTo(BeZero())
	})

	It("reports no user message when the request has none", func() {
		Expect(s.SaveTurnStart(ctx, "c1", request("assistant", "hello"), "", "")).To(Succeed())

		_, ok, err := s.ReadLastUserMessage(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("keeps only the latest turn", func() {
		Expect(s.SaveTurnStart(ctx, "c1", request("user", "A"), "p", "t")).To(Succeed())
		Expect(s.SaveTurnResult(ctx, "c1", "reply to A")).To(Succeed())
		Expect(s.SaveTurnStart(ctx, "c1", request("user", "B"), "p2", "t2")).To(Succeed())

		last, _, err := s.ReadLastUserMessage(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(last).To(Equal("B"))

		snap, err := s.Get(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.LastRequestMessages).To(Equal(request("user", "B")))
		Expect(snap.Prompt).To(Equal("p2"))
		Expect(snap.RoutingToken).To(Equal("t2"))
	})

	It("keeps the last completed reply when a newer turn starts", func() {
		Expect(s.SaveTurnStart(ctx, "c1", request("user", "你好"), "p", "t")).To(Succeed())
		Expect(s.SaveTurnResult(ctx, "c1", "R1")).To(Succeed())
		Expect(s.SaveTurnStart(ctx, "c1", request("user", "你好", "assistant", "R1", "user", "再见"), "p", "t")).To(Succeed())

		reply, ok, err := s.ReadLastReply(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(reply).To(Equal("R1"))

		By("a stale result for the newer turn leaves R1 in place")
		written, err := s.SaveTurnResultIf(ctx, "c1", "你好", "late reply")
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(BeFalse())

		reply, _, err = s.ReadLastReply(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("R1"))
	})

	It("stores the final reply", func() {
		Expect(s.SaveTurnStart(ctx, "c1", request("user", "A"), "p", "t")).To(Succeed())
		Expect(s.SaveTurnResult(ctx, "c1", "x|y")).To(Succeed())

		reply, ok, err := s.ReadLastReply(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(reply).To(Equal("x|y"))
	})

	Describe("SaveTurnResultIf", func() {
		BeforeEach(func() {
			Expect(s.SaveTurnStart(ctx, "c1", request("user", "A"), "p", "t")).To(Succeed())
		})

		It("writes while the last user message matches", func() {
			written, err := s.SaveTurnResultIf(ctx, "c1", "A", "reply to A")
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(BeTrue())

			reply, _, err := s.ReadLastReply(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(Equal("reply to A"))
		})

		It("leaves the snapshot untouched after a newer turn started", func() {
			Expect(s.SaveTurnStart(ctx, "c1", request("user", "A", "user", "B"), "p", "t")).To(Succeed())

			written, err := s.SaveTurnResultIf(ctx, "c1", "A", "reply to A")
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(BeFalse())

			snap, err := s.Get(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.LastReplyContent).To(BeEmpty())
			last, _ := snap.LastUserMessage()
			Expect(last).To(Equal("B"))
		})

		It("does not create a snapshot for an unknown conversation", func() {
			written, err := s.SaveTurnResultIf(ctx, "other", "A", "reply")
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(BeFalse())

			_, err = s.Get(ctx, "other")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})
}

var _ = Describe("MemorySnapshotStore", func() {
	snapshotStoreContract(store.NewMemorySnapshotStore)
})

var _ = Describe("RedisSnapshotStore", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
	)

	BeforeEach(func() {
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
	})

	snapshotStoreContract(func() store.SnapshotStore {
		return store.NewRedisSnapshotStore(client, store.RedisSnapshotConfig{KeyPrefix: "snap"})
	})

	It("stores snapshots under the configured prefix", func() {
		s := store.NewRedisSnapshotStore(client, store.RedisSnapshotConfig{KeyPrefix: "snap"})
		Expect(s.SaveTurnStart(context.Background(), "c9", request("user", "hi"), "", "")).To(Succeed())

		Expect(mr.Exists("snap:c9")).To(BeTrue())
	})

	It("expires snapshots after the TTL", func() {
		s := store.NewRedisSnapshotStore(client, store.RedisSnapshotConfig{KeyPrefix: "snap", TTL: time.Minute})
		ctx := context.Background()
		Expect(s.SaveTurnStart(ctx, "c1", request("user", "hi"), "", "")).To(Succeed())
		Expect(s.SaveTurnResult(ctx, "c1", "hello")).To(Succeed())

		Expect(mr.TTL("snap:c1")).To(Equal(time.Minute))
		mr.FastForward(2 * time.Minute)

		_, err := s.Get(ctx, "c1")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})

	It("surfaces a corrupt document as an error", func() {
		Expect(mr.Set("snap:bad", "{not json")).To(Succeed())
		s := store.NewRedisSnapshotStore(client, store.RedisSnapshotConfig{KeyPrefix: "snap"})

		_, _, err := s.ReadLastUserMessage(context.Background(), "bad")
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, store.ErrNotFound)).To(BeFalse())
	})

	It("replaces a corrupt document when a turn starts", func() {
		Expect(mr.Set("snap:bad", "{not json")).To(Succeed())
		s := store.NewRedisSnapshotStore(client, store.RedisSnapshotConfig{KeyPrefix: "snap"})
		ctx := context.Background()

		Expect(s.SaveTurnStart(ctx, "bad", request("user", "hi"), "", "")).To(Succeed())

		last, ok, err := s.ReadLastUserMessage(ctx, "bad")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(last).To(Equal("hi"))
	})
})

var _ = Describe("NewSnapshotStore", func() {
	It("builds the memory backend without connections", func() {
		s, err := store.NewSnapshotStore(config.SnapshotConfig{Backend: config.SnapshotBackendMemory}, store.Backends{})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).NotTo(BeNil())
	})

	It("requires a redis client for the redis backend", func() {
		_, err := store.NewSnapshotStore(config.SnapshotConfig{Backend: config.SnapshotBackendRedis}, store.Backends{})
		Expect(err).To(MatchError(ContainSubstring("redis client")))
	})

	It("requires a pool for the postgres backend", func() {
		_, err := store.NewSnapshotStore(config.SnapshotConfig{Backend: config.SnapshotBackendPostgres}, store.Backends{})
		Expect(err).To(MatchError(ContainSubstring("database pool")))
	})

	It("rejects unknown backends", func() {
		_, err := store.NewSnapshotStore(config.SnapshotConfig{Backend: "etcd"}, store.Backends{})
		Expect(err).To(HaveOccurred())
	})
})
