package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(Request{ContextBefore: "The method uses", ContextAfter: "  ", Title: "Optimisers"})
	if !strings.HasPrefix(p, "Paper title: Optimisers\n[Text before cursor]:\nThe method uses") {
		t.Fatalf("prompt = %q", p)
	}
	if strings.Contains(p, "[Text after cursor]") {
		t.Fatalf("blank after-context should be omitted: %q", p)
	}

	long := strings.Repeat("x", MaxContextAfter+50)
	p = BuildPrompt(Request{ContextBefore: "a", ContextAfter: long})
	if strings.Contains(p, strings.Repeat("x", MaxContextAfter+1)) {
		t.Fatalf("after-context not truncated")
	}
	if strings.Contains(p, "Paper title") {
		t.Fatalf("empty title should be omitted")
	}
}

func sseServer(t *testing.T, fragments []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Stream   bool `json:"stream"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Stream || len(body.Messages) != 2 {
			t.Errorf("bad completion request: %+v err=%v", body, err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range fragments {
			b, _ := json.Marshal(f)
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%s}}]}\n\n", b)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestOpenAICompleter_Stream(t *testing.T) {
	srv := sseServer(t, []string{" gradient", " descent", "."})
	defer srv.Close()

	c := NewOpenAICompleter(Options{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "llama3.1", Temperature: 0.3})
	var got []string
	err := c.Stream(context.Background(), Request{ContextBefore: "The method uses"}, func(f string) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream error = %v", err)
	}
	if strings.Join(got, "") != " gradient descent." || len(got) != 3 {
		t.Fatalf("fragments = %q", got)
	}
}

func TestOpenAICompleter_CallbackStopsStream(t *testing.T) {
	srv := sseServer(t, []string{"a", "b", "c"})
	defer srv.Close()

	c := NewOpenAICompleter(Options{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "m"})
	stop := fmt.Errorf("stop")
	n := 0
	err := c.Stream(context.Background(), Request{ContextBefore: "x"}, func(string) error {
		n++
		return stop
	})
	if err != stop || n != 1 {
		t.Fatalf("err = %v, callbacks = %d", err, n)
	}
}

func TestOpenAICompleter_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOpenAICompleter(Options{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "missing"})
	if err := c.Stream(context.Background(), Request{ContextBefore: "x"}, func(string) error { return nil }); err == nil {
		t.Fatalf("expected error from failing service")
	}
}
