package controllers_test

import (
	"context"
	"path/filepath"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewFromConfig", func() {
	var (
		cfg *config.Config
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.Default()
		cfg.History.Path = filepath.Join(GinkgoT().TempDir(), "chat_history.json")
	})

	It("should persist turns to history and memory", func() {
		setup, err := controllers.NewFromConfig(ctx, cfg, testutil.NewFakeStreamer(testutil.Token("4"), testutil.Done()), false)
		Expect(err).ToNot(HaveOccurred())
		Expect(setup.History).ToNot(BeNil())

		Expect(setup.Controller.Start(ctx, "2+2?", nil, controllers.StartOptions{})).To(Succeed())
		Expect(setup.Controller.Wait(ctx)).To(Succeed())

		Expect(setup.History.GetMessages()).To(HaveLen(2))
		buffered, err := setup.Memory.Messages(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(buffered).To(HaveLen(2))
	})

	It("should continue a saved conversation", func() {
		history, err := chat.NewHistory(cfg.History.Path, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(history.Record(ctx, []chat.Message{chat.NewUserMessage("earlier"), chat.NewAssistantMessage("reply")})).To(Succeed())

		setup, err := controllers.NewFromConfig(ctx, cfg, testutil.NewFakeStreamer(testutil.Done()), true)
		Expect(err).ToNot(HaveOccurred())

		Expect(contents(setup.Controller.Messages())).To(Equal([]string{"user:earlier", "assistant:reply"}))
		buffered, err := setup.Memory.Messages(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(buffered).To(HaveLen(2))
	})

	It("should start fresh without continue", func() {
		history, err := chat.NewHistory(cfg.History.Path, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(history.Record(ctx, []chat.Message{chat.NewUserMessage("earlier")})).To(Succeed())

		setup, err := controllers.NewFromConfig(ctx, cfg, testutil.NewFakeStreamer(), false)
		Expect(err).ToNot(HaveOccurred())
		Expect(setup.Controller.Messages()).To(BeEmpty())
		Expect(setup.History.GetMessages()).To(BeEmpty())
	})

	It("should skip the history file when disabled", func() {
		cfg.History.Enabled = false
		setup, err := controllers.NewFromConfig(ctx, cfg, testutil.NewFakeStreamer(), true)
		Expect(err).ToNot(HaveOccurred())
		Expect(setup.History).To(BeNil())
		Expect(setup.Memory).ToNot(BeNil())
	})
})
