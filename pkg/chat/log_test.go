package chat_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tmc/langchaingo/llms"
)

var _ = Describe("Messages", func() {
	It("should trim user content and assign ids", func() {
		msg := chat.NewUserMessage("  Hello World  ")

		Expect(msg.Role).To(Equal(chat.RoleUser))
		Expect(msg.Content).To(Equal("Hello World"))
		Expect(msg.ID).ToNot(BeEmpty())
		Expect(msg.Timestamp).To(BeTemporally("~", time.Now(), time.Second))
	})

	It("should treat an attachment as content", func() {
		msg := chat.NewUserMessage("   ")
		Expect(msg.IsEmpty()).To(BeTrue())

		msg.Attachment = &chat.AttachmentRef{Name: "a.png", MimeType: "image/png"}
		Expect(msg.IsEmpty()).To(BeFalse())
	})
})

var _ = Describe("Log", func() {
	It("should append in order and fill ids", func() {
		log := chat.NewLog()
		first := log.Append(chat.Message{Role: chat.RoleUser, Content: "q"})
		second := log.Append(chat.NewAssistantMessage("a"))

		Expect(first.ID).ToNot(BeEmpty())
		Expect(first.Timestamp.IsZero()).To(BeFalse())
		Expect(log.Len()).To(Equal(2))

		msgs := log.Messages()
		Expect(msgs[0].ID).To(Equal(first.ID))
		Expect(msgs[1].ID).To(Equal(second.ID))

		found, ok := log.Get(second.ID)
		Expect(ok).To(BeTrue())
		Expect(found.Content).To(Equal("a"))
	})

	It("should find the last user message", func() {
		log := chat.NewLog(chat.NewUserMessage("one"), chat.NewAssistantMessage("reply"), chat.NewUserMessage("two"), chat.NewErrorMessage("failed"))

		last, ok := log.LastUserMessage()
		Expect(ok).To(BeTrue())
		Expect(last.Content).To(Equal("two"))

		_, ok = chat.NewLog().LastUserMessage()
		Expect(ok).To(BeFalse())
	})

	It("should slice from a position", func() {
		log := chat.NewLog(chat.NewUserMessage("one"), chat.NewAssistantMessage("reply"))

		Expect(log.Since(1)).To(HaveLen(1))
		Expect(log.Since(1)[0].Content).To(Equal("reply"))
		Expect(log.Since(5)).To(BeEmpty())
		Expect(log.Since(-1)).To(HaveLen(2))
	})

	It("should hand out copies", func() {
		log := chat.NewLog(chat.NewUserMessage("one"))
		msgs := log.Messages()
		msgs[0].Content = "changed"

		Expect(log.Messages()[0].Content).To(Equal("one"))
	})
})

var _ = Describe("History", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "nested", "chat_history.json")
	})

	It("should persist recorded turns", func() {
		history, err := chat.NewHistory(path, false)
		Expect(err).ToNot(HaveOccurred())

		turn := []chat.Message{chat.NewUserMessage("2+2?"), chat.NewAssistantMessage("4")}
		Expect(history.Record(context.Background(), turn)).To(Succeed())

		reopened, err := chat.NewHistory(path, true)
		Expect(err).ToNot(HaveOccurred())

		msgs := reopened.GetMessages()
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Content).To(Equal("2+2?"))
		Expect(msgs[1].ID).To(Equal(turn[1].ID))
		Expect(reopened.GetLastN(1)[0].Content).To(Equal("4"))
	})

	It("should start fresh without preserve", func() {
		history, err := chat.NewHistory(path, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(history.Record(context.Background(), []chat.Message{chat.NewUserMessage("old")})).To(Succeed())

		fresh, err := chat.NewHistory(path, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(fresh.GetMessages()).To(BeEmpty())
	})

	It("should fail on a corrupt file", func() {
		Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
		Expect(os.WriteFile(path, []byte("{broken"), 0644)).To(Succeed())

		_, err := chat.NewHistory(path, true)
		Expect(err).To(HaveOccurred())
	})

	It("should clear", func() {
		history, err := chat.NewHistory(path, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(history.Record(context.Background(), []chat.Message{chat.NewUserMessage("x")})).To(Succeed())
		Expect(history.Clear()).To(Succeed())
		Expect(history.GetMessages()).To(BeEmpty())
		Expect(history.GetLastN(3)).To(BeEmpty())
	})
})

var _ = Describe("ConversationMemory", func() {
	It("should mirror roles into the LangChain buffer", func() {
		ctx := context.Background()
		mem := chat.NewConversationMemory()

		Expect(mem.Record(ctx, []chat.Message{
			chat.NewSystemMessage("be brief"),
			chat.NewUserMessage("2+2?"),
			chat.NewAssistantMessage("4"),
			chat.NewErrorMessage("later failure"),
		})).To(Succeed())

		msgs, err := mem.Messages(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(4))
		Expect(msgs[0].GetType()).To(Equal(llms.ChatMessageTypeSystem))
		Expect(msgs[1].GetType()).To(Equal(llms.ChatMessageTypeHuman))
		Expect(msgs[1].GetContent()).To(Equal("2+2?"))
		Expect(msgs[2].GetType()).To(Equal(llms.ChatMessageTypeAI))
		Expect(msgs[3].GetType()).To(Equal(llms.ChatMessageTypeGeneric))

		vars, err := mem.Variables(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(vars).To(HaveKey("history"))

		Expect(mem.Clear(ctx)).To(Succeed())
		msgs, err = mem.Messages(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(BeEmpty())
	})

	It("should reject unknown roles", func() {
		_, err := chat.NewConversationMemoryFrom(context.Background(), []chat.Message{{Role: "robot", Content: "?"}})
		Expect(err).To(HaveOccurred())
	})
})
