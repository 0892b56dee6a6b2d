package integration

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/headless"
	"github.com/killallgit/threadline/pkg/stream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chat against a live endpoint", func() {
	var (
		cfg        *config.Config
		controller *controllers.GenerationController
		ctx        context.Context
		cancel     context.CancelFunc
	)

	BeforeEach(func() {
		cfg = liveConfig()
		controller = controllers.NewGenerationController(
			controllers.FromClient(stream.NewClientFromConfig(cfg)),
			controllers.Options{Provider: cfg.Provider, Model: cfg.Model},
		)
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)
	})

	AfterEach(func() {
		cancel()
	})

	It("should answer a simple arithmetic question", func() {
		Expect(controller.Start(ctx, "What is 2+2? Reply with just the number.", nil, controllers.StartOptions{})).To(Succeed())
		Expect(controller.Wait(ctx)).To(Succeed())

		msgs := controller.Messages()
		Expect(msgs).ToNot(BeEmpty())
		last := msgs[len(msgs)-1]
		Expect(last.Role).To(Equal(chat.RoleAssistant))
		Expect(last.Content).To(ContainSubstring("4"))
		Expect(controller.State()).To(Equal(controllers.StateIdle))
	})

	It("should stop a generation on cancel", func() {
		Expect(controller.Start(ctx, "Count slowly from 1 to 200, one number per line.", nil, controllers.StartOptions{})).To(Succeed())
		Eventually(func() bool {
			snap, ok := controller.Current()
			return ok && snap.Content != ""
		}, 30*time.Second, 50*time.Millisecond).Should(BeTrue())

		controller.Cancel()
		Expect(controller.Wait(ctx)).To(Succeed())

		msgs := controller.Messages()
		Expect(msgs[len(msgs)-1].Content).To(HaveSuffix(cfg.StopMarker))
	})

	It("should print a token summary in headless mode", func() {
		var out, errOut bytes.Buffer
		err := headless.RunContext(ctx, cfg, controllers.FromClient(stream.NewClientFromConfig(cfg)), headless.Options{
			Prompt: "Say hello.",
			Out:    &out,
			ErrOut: &errOut,
		})
		Expect(err).ToNot(HaveOccurred(), errOut.String())

		sent, recv, total, ok := parseTokenCounts(out.String())
		Expect(ok).To(BeTrue(), out.String())
		Expect(sent).To(BeNumerically(">", 0))
		Expect(recv).To(BeNumerically(">", 0))
		Expect(total).To(Equal(sent + recv))
		Expect(strings.TrimSpace(out.String())).ToNot(BeEmpty())
	})
})
