package controllers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/stream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload := map[string]any{"event": event}
	if data != nil {
		payload["data"] = data
	}
	b, _ := json.Marshal(payload)
	fmt.Fprintf(w, "data: %s\n\n", b)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

var _ = Describe("GenerationController over HTTP", func() {
	var server *httptest.Server

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	It("should answer 2+2 over a real event stream", func() {
		var received stream.Request
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())

			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "tool_call", map[string]any{"id": "calc-1", "name": "calculator", "args": map[string]any{"expression": "2+2"}})
			writeSSE(w, "tool_update", map[string]any{"id": "calc-1", "status": "completed", "result": "4"})
			writeSSE(w, "token", "4")
			writeSSE(w, "done", nil)
		}))

		client := stream.NewClient(server.URL)
		memory := chat.NewConversationMemory()
		controller := controllers.NewGenerationController(controllers.FromClient(client), controllers.Options{
			Provider: "openai",
			Model:    "test-model",
			Sinks:    []chat.Sink{memory},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Expect(controller.Start(ctx, "2+2?", nil, controllers.StartOptions{})).To(Succeed())
		Expect(controller.Wait(ctx)).To(Succeed())

		Expect(received.Message).To(Equal("2+2?"))
		Expect(controller.State()).To(Equal(controllers.StateIdle))

		msgs := controller.Messages()
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[1].Content).To(Equal("4"))

		invs := controller.Invocations()
		Expect(invs).To(HaveLen(1))
		Expect(invs[0].Name).To(Equal("calculator"))
		Expect(invs[0].Expanded).To(BeFalse())

		buffered, err := memory.Messages(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(buffered).To(HaveLen(2))
	})

	It("should stop a slow stream on cancel", func() {
		release := make(chan struct{})
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "token", "Working on it")
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer close(release)

		controller := controllers.NewGenerationController(controllers.FromClient(stream.NewClient(server.URL)), controllers.Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Expect(controller.Start(ctx, "long task", nil, controllers.StartOptions{})).To(Succeed())
		Eventually(currentContent(controller)).Should(Equal("Working on it"))

		controller.Cancel()
		Expect(controller.Wait(ctx)).To(Succeed())

		Expect(controller.State()).To(Equal(controllers.StateIdle))
		Expect(controller.Messages()[1].Content).To(Equal("Working on it\n\n(generation stopped)"))
	})

	It("should report an HTTP failure once", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"model not found"}`)
		}))

		controller := controllers.NewGenerationController(controllers.FromClient(stream.NewClient(server.URL)), controllers.Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Expect(controller.Start(ctx, "hi", nil, controllers.StartOptions{})).To(Succeed())
		Expect(controller.Wait(ctx)).To(Succeed())

		msgs := controller.Messages()
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[1].Role).To(Equal(chat.RoleError))
		Expect(msgs[1].Content).To(ContainSubstring("model not found"))
	})

	It("should close the connection when the server reports an error", func() {
		var released atomic.Bool
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "error", "tool crashed")
			<-r.Context().Done()
			released.Store(true)
		}))

		controller := controllers.NewGenerationController(controllers.FromClient(stream.NewClient(server.URL)), controllers.Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Expect(controller.Start(ctx, "hi", nil, controllers.StartOptions{})).To(Succeed())
		Expect(controller.Wait(ctx)).To(Succeed())

		Expect(controller.State()).To(Equal(controllers.StateIdle))
		Expect(controller.Messages()[1].Content).To(Equal("tool crashed"))
		Eventually(released.Load, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
	})
})
