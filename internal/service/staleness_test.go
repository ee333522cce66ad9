package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/service"
	"buddypark.app/relay/internal/store"
)

var _ = Describe("StalenessGuard", func() {
	var (
		ctx       context.Context
		snapshots store.SnapshotStore
		guard     service.StalenessGuard
	)

	BeforeEach(func() {
		ctx = context.Background()
		snapshots = store.NewMemorySnapshotStore()
		guard = service.NewStalenessGuard(snapshots)
	})

	It("is valid while the last user message matches", func() {
		Expect(snapshots.SaveTurnStart(ctx, "c1", history("hi", "hello", "how are you"), "", "")).To(Succeed())

		verdict, err := guard.Validate(ctx, "c1", "how are you")
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict).To(Equal(service.VerdictValid))
	})

	It("is stale once a newer user message was recorded", func() {
		Expect(snapshots.SaveTurnStart(ctx, "c1", history("A"), "", "")).To(Succeed())
		Expect(snapshots.SaveTurnStart(ctx, "c1", history("A", "reply", "B"), "", "")).To(Succeed())

		verdict, err := guard.Validate(ctx, "c1", "A")
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict).To(Equal(service.VerdictStale))
	})

	DescribeTable("treats anything but an exact match as stale",
		func(stored []model.RequestMessage, expected string) {
			if stored != nil {
				Expect(snapshots.SaveTurnStart(ctx, "c1", stored, "", "")).To(Succeed())
			}
			verdict, err := guard.Validate(ctx, "c1", expected)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict).To(Equal(service.VerdictStale))
		},
		Entry("no snapshot", nil, "hi"),
		Entry("no user entry", []model.RequestMessage{{Role: model.RoleAssistant, Content: "hi"}}, "hi"),
		Entry("trailing whitespace", history("hi "), "hi"),
		Entry("different case", history("Hi"), "hi"),
	)

	It("returns store errors with a stale verdict", func() {
		failing := &failingSnapshotStore{SnapshotStore: snapshots, readLastUserErr: errors.New("redis down")}
		guard = service.NewStalenessGuard(failing)

		verdict, err := guard.Validate(ctx, "c1", "hi")
		Expect(err).To(MatchError(ContainSubstring("redis down")))
		Expect(verdict).To(Equal(service.VerdictStale))
	})
})
