package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buddypark.app/relay/internal/store"
)

type execCall struct {
	sql  string
	args []any
}

// fakeQuerier records statements and answers them from fn fields.
type fakeQuerier struct {
	execs      []execCall
	execFn     func(sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(sql string, args ...any) pgx.Row
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, execCall{sql: sql, args: args})
	if q.execFn != nil {
		return q.execFn(sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if q.queryRowFn != nil {
		return q.queryRowFn(sql, args...)
	}
	return fakeRow{err: pgx.ErrNoRows}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r.values[i].(string)
		case *pgtype.Text:
			*d = r.values[i].(pgtype.Text)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

var _ = Describe("PostgresSnapshotStore", func() {
	var (
		ctx context.Context
		q   *fakeQuerier
		s   store.SnapshotStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = &fakeQuerier{}
		s = store.NewPostgresSnapshotStore(q)
	})

	Describe("SaveTurnStart", func() {
		It("upserts the request and denormalises the last user message", func() {
			Expect(s.SaveTurnStart(ctx, "c1", request("user", "你好", "assistant", "R1", "user", "再见"), "p", "t")).To(Succeed())

			Expect(q.execs).To(HaveLen(1))
			call := q.execs[0]
			Expect(call.sql).To(ContainSubstring("ON CONFLICT (conversation_id) DO UPDATE"))
			Expect(call.args[0]).To(Equal("c1"))
			Expect(call.args[2]).To(Equal(pgtype.Text{String: "再见", Valid: true}))
			Expect(call.args[3]).To(Equal("p"))
			Expect(call.args[4]).To(Equal("t"))
		})

		It("leaves the stored reply out of the conflict update", func() {
			Expect(s.SaveTurnStart(ctx, "c1", request("user", "hi"), "", "")).To(Succeed())

			_, conflict, found := strings.Cut(q.execs[0].sql, "ON CONFLICT")
			Expect(found).To(BeTrue())
			Expect(conflict).NotTo(ContainSubstring("last_reply_content"))
		})

		It("stores a NULL last user message when the request has none", func() {
			Expect(s.SaveTurnStart(ctx, "c1", nil, "", "")).To(Succeed())

			Expect(q.execs[0].args[1]).To(Equal([]byte("[]")))
			Expect(q.execs[0].args[2]).To(Equal(pgtype.Text{}))
		})
	})

	Describe("SaveTurnResultIf", func() {
		It("reports a write when the conditional update hit the row", func() {
			q.execFn = func(string, ...any) (pgconn.CommandTag, error) {
				return pgconn.NewCommandTag("UPDATE 1"), nil
			}

			written, err := s.SaveTurnResultIf(ctx, "c1", "A", "reply to A")
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(BeTrue())

			call := q.execs[0]
			Expect(call.sql).To(ContainSubstring("WHERE conversation_id = $1 AND last_user_message = $2"))
			Expect(call.args).To(Equal([]any{"c1", "A", "reply to A"}))
		})

		It("reports no write when a newer turn changed the last user message", func() {
			q.execFn = func(string, ...any) (pgconn.CommandTag, error) {
				return pgconn.NewCommandTag("UPDATE 0"), nil
			}

			written, err := s.SaveTurnResultIf(ctx, "c1", "A", "reply to A")
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(BeFalse())
		})

		It("wraps database errors", func() {
			q.execFn = func(string, ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("connection reset")
			}

			_, err := s.SaveTurnResultIf(ctx, "c1", "A", "reply")
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
		})
	})

	Describe("reads", func() {
		It("treats a missing row as absent", func() {
			_, ok, err := s.ReadLastReply(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, ok, err = s.ReadLastUserMessage(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, err = s.Get(ctx, "missing")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})

		It("returns the stored reply", func() {
			q.queryRowFn = func(string, ...any) pgx.Row {
				return fakeRow{values: []any{"x|y"}}
			}

			reply, ok, err := s.ReadLastReply(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(reply).To(Equal("x|y"))
		})

		It("reports a NULL last user message as absent", func() {
			q.queryRowFn = func(string, ...any) pgx.Row {
				return fakeRow{values: []any{pgtype.Text{}}}
			}

			_, ok, err := s.ReadLastUserMessage(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	It("creates the schema under an advisory lock", func() {
		Expect(store.EnsureSnapshotSchema(ctx, q)).To(Succeed())

		Expect(q.execs).To(HaveLen(2))
		Expect(q.execs[0].sql).To(ContainSubstring("pg_advisory_xact_lock"))
		Expect(q.execs[1].sql).To(ContainSubstring("CREATE TABLE IF NOT EXISTS conversation_snapshots"))
	})
})
