package tools_test

import (
	"github.com/killallgit/threadline/pkg/stream"
	"github.com/killallgit/threadline/pkg/tools"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func strPtr(s string) *string { return &s }

func expandedIDs(l *tools.Lifecycle) []string {
	var ids []string
	for _, inv := range l.Invocations() {
		if inv.Expanded {
			ids = append(ids, inv.ID)
		}
	}
	return ids
}

var _ = Describe("Lifecycle", func() {
	var (
		lifecycle *tools.Lifecycle
		changes   int
	)

	BeforeEach(func() {
		lifecycle = tools.NewLifecycle()
		changes = 0
		lifecycle.SetOnChange(func() { changes++ })
	})

	Describe("creating invocations", func() {
		It("should start pending and become active", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A", Name: "search", ArgsJSON: `{"q":"go"}`})

			inv, ok := lifecycle.Get("A")
			Expect(ok).To(BeTrue())
			Expect(inv.Status).To(Equal(tools.StatusPending))
			Expect(inv.Expanded).To(BeTrue())
			Expect(lifecycle.ActiveID()).To(Equal("A"))
			Expect(changes).To(Equal(1))
		})

		It("should collapse the previous invocation when a new one arrives", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A", Name: "search"})
			lifecycle.OnToolCall(stream.ToolCall{ID: "B", Name: "fetch"})

			Expect(expandedIDs(lifecycle)).To(Equal([]string{"B"}))
			Expect(lifecycle.ActiveID()).To(Equal("B"))
		})

		It("should only fill missing fields on a repeated call", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolCall(stream.ToolCall{ID: "A", Name: "search", ArgsJSON: `{"q":1}`})
			lifecycle.OnToolCall(stream.ToolCall{ID: "A", Name: "other", ArgsJSON: `{"q":2}`})

			inv, _ := lifecycle.Get("A")
			Expect(inv.Name).To(Equal("search"))
			Expect(inv.ArgsJSON).To(Equal(`{"q":1}`))
			Expect(lifecycle.Len()).To(Equal(1))
			Expect(changes).To(Equal(2))
		})

		It("should keep creation order", func() {
			for _, id := range []string{"C", "A", "B"} {
				lifecycle.OnToolCall(stream.ToolCall{ID: id})
			}

			var ids []string
			for _, inv := range lifecycle.Invocations() {
				ids = append(ids, inv.ID)
			}
			Expect(ids).To(Equal([]string{"C", "A", "B"}))
		})
	})

	Describe("updates", func() {
		It("should keep the latest completed invocation expanded until the final response", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A", Name: "search"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "completed", Result: strPtr("3 hits")})

			inv, _ := lifecycle.Get("A")
			Expect(inv.Status).To(Equal(tools.StatusCompleted))
			Expect(inv.Expanded).To(BeTrue())
			Expect(lifecycle.ActiveID()).To(BeEmpty())

			lifecycle.BeginFinalResponse()
			inv, _ = lifecycle.Get("A")
			Expect(inv.Expanded).To(BeFalse())
			Expect(lifecycle.FinalResponseStarted()).To(BeTrue())
		})

		It("should follow the A completed, B pending, B completed sequence", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "completed"})
			lifecycle.OnToolCall(stream.ToolCall{ID: "B"})

			Expect(expandedIDs(lifecycle)).To(Equal([]string{"B"}))

			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "B", Status: "completed"})
			Expect(expandedIDs(lifecycle)).To(Equal([]string{"B"}))

			lifecycle.BeginFinalResponse()
			Expect(expandedIDs(lifecycle)).To(BeEmpty())
		})

		It("should never collapse errors", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "error", Result: strPtr("timeout")})
			lifecycle.OnToolCall(stream.ToolCall{ID: "B"})
			lifecycle.BeginFinalResponse()

			Expect(expandedIDs(lifecycle)).To(Equal([]string{"A", "B"}))

			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "B", Status: "completed"})
			Expect(expandedIDs(lifecycle)).To(Equal([]string{"A"}))
		})

		It("should merge only present fields", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Result: strPtr("partial")})

			inv, _ := lifecycle.Get("A")
			Expect(inv.Status).To(Equal(tools.StatusPending))
			Expect(*inv.Result).To(Equal("partial"))

			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "completed"})
			inv, _ = lifecycle.Get("A")
			Expect(inv.Status).To(Equal(tools.StatusCompleted))
			Expect(*inv.Result).To(Equal("partial"))
		})

		It("should not leave a terminal state", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "completed", Result: strPtr("ok")})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "pending", Result: strPtr("again")})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "error"})

			inv, _ := lifecycle.Get("A")
			Expect(inv.Status).To(Equal(tools.StatusCompleted))
			Expect(*inv.Result).To(Equal("ok"))
		})

		It("should create the invocation for an unseen id", func() {
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "ghost", Status: "completed"})

			inv, ok := lifecycle.Get("ghost")
			Expect(ok).To(BeTrue())
			Expect(inv.Status).To(Equal(tools.StatusCompleted))
			Expect(inv.Expanded).To(BeTrue())
		})

		It("should accept status synonyms and ignore unknown ones", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "bogus"})
			inv, _ := lifecycle.Get("A")
			Expect(inv.Status).To(Equal(tools.StatusPending))

			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "FAILED"})
			inv, _ = lifecycle.Get("A")
			Expect(inv.Status).To(Equal(tools.StatusError))
		})
	})

	Describe("turn boundaries", func() {
		It("should be vacuously complete without invocations", func() {
			Expect(lifecycle.AreAllComplete()).To(BeTrue())
		})

		It("should report completion for the current turn only", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			Expect(lifecycle.AreAllComplete()).To(BeFalse())
			Expect(lifecycle.PendingIDs()).To(Equal([]string{"A"}))

			lifecycle.ResetForNewTurn()
			Expect(lifecycle.AreAllComplete()).To(BeTrue())
			Expect(lifecycle.Len()).To(Equal(1))

			lifecycle.OnToolCall(stream.ToolCall{ID: "B"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "B", Status: "completed"})
			Expect(lifecycle.AreAllComplete()).To(BeTrue())
		})

		It("should collapse history on reset and delete it on clear", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Status: "completed"})
			lifecycle.BeginFinalResponse()

			lifecycle.ResetForNewTurn()
			Expect(lifecycle.FinalResponseStarted()).To(BeFalse())
			Expect(expandedIDs(lifecycle)).To(BeEmpty())
			Expect(lifecycle.Len()).To(Equal(1))

			lifecycle.Clear()
			Expect(lifecycle.Len()).To(Equal(0))
			Expect(lifecycle.Invocations()).To(BeEmpty())
		})
	})

	Describe("snapshots", func() {
		It("should return copies", func() {
			lifecycle.OnToolCall(stream.ToolCall{ID: "A"})
			lifecycle.OnToolUpdate(stream.ToolUpdate{ID: "A", Result: strPtr("original")})

			inv, _ := lifecycle.Get("A")
			*inv.Result = "mutated"
			inv.Name = "mutated"

			again, _ := lifecycle.Get("A")
			Expect(*again.Result).To(Equal("original"))
			Expect(again.Name).To(BeEmpty())
		})
	})
})

var _ = Describe("Invocation formatting", func() {
	It("should pretty print valid JSON args and results", func() {
		inv := tools.Invocation{ArgsJSON: `{"q":"go","n":2}`, Result: strPtr(`[1,2]`)}

		Expect(inv.FormattedArgs()).To(Equal("{\n  \"q\": \"go\",\n  \"n\": 2\n}"))
		Expect(inv.FormattedResult()).To(Equal("[\n  1,\n  2\n]"))
		Expect(inv.Args()).To(HaveKeyWithValue("q", "go"))
	})

	It("should fall back to raw text", func() {
		inv := tools.Invocation{ArgsJSON: `not json`, Result: strPtr("plain output")}

		Expect(inv.FormattedArgs()).To(Equal("not json"))
		Expect(inv.FormattedResult()).To(Equal("plain output"))
		Expect(inv.Args()).To(BeNil())
	})

	It("should report missing results", func() {
		inv := tools.Invocation{}
		Expect(inv.HasResult()).To(BeFalse())
		Expect(inv.FormattedResult()).To(BeEmpty())
	})

	It("should map status synonyms", func() {
		for wire, want := range map[string]tools.Status{
			"running":   tools.StatusPending,
			"success":   tools.StatusCompleted,
			"Completed": tools.StatusCompleted,
			"failed":    tools.StatusError,
		} {
			got, ok := tools.ParseStatus(wire)
			Expect(ok).To(BeTrue(), wire)
			Expect(got).To(Equal(want), wire)
		}
		_, ok := tools.ParseStatus("paused")
		Expect(ok).To(BeFalse())
	})
})
