package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"draftCollab/backend/internal/cache"
	"draftCollab/backend/internal/llm"
	"draftCollab/backend/internal/protocol"
	"draftCollab/backend/internal/suggest"
)

type fakeCompleter struct {
	fragments []string
	err       error
	got       llm.Request
}

func (f *fakeCompleter) Stream(ctx context.Context, req llm.Request, onFragment func(string) error) error {
	f.got = req
	for _, frag := range f.fragments {
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	return f.err
}

func suggestRouter(c llm.Completer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/ai/inline-suggest", NewSuggestHandler(c).InlineSuggest)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInlineSuggest_Streams(t *testing.T) {
	fc := &fakeCompleter{fragments: []string{" jumps", " over", " the dog"}}
	w := postJSON(suggestRouter(fc), "/ai/inline-suggest",
		`{"context_before":"The quick brown fox","context_after":"","full_title":"Animals"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != " jumps over the dog" {
		t.Fatalf("body = %q", got)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type = %q", w.Header().Get("Content-Type"))
	}
	if fc.got.Title != "Animals" || fc.got.ContextBefore != "The quick brown fox" {
		t.Fatalf("request = %+v", fc.got)
	}
}

func TestInlineSuggest_BadRequest(t *testing.T) {
	r := suggestRouter(&fakeCompleter{})
	if w := postJSON(r, "/ai/inline-suggest", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", w.Code)
	}
	if w := postJSON(r, "/ai/inline-suggest", `{"context_before":"   "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty context status = %d", w.Code)
	}
}

func TestInlineSuggest_UpstreamError(t *testing.T) {
	w := postJSON(suggestRouter(&fakeCompleter{err: errors.New("model offline")}), "/ai/inline-suggest",
		`{"context_before":"some text"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

type fakeRooms struct {
	roster map[string][]protocol.RosterEntry
}

type fakePresence struct {
	cache.PresenceCache
	members map[string][]cache.PresenceMember
	cursors map[string][]byte
}

func (f fakePresence) GetAliveMembers(ctx context.Context, docID string) ([]cache.PresenceMember, error) {
	return f.members[docID], nil
}

func (f fakePresence) GetCursor(ctx context.Context, docID, sessionID string) ([]byte, error) {
	return f.cursors[sessionID], nil
}

func (f fakeRooms) ListSessions(ctx context.Context, docID string) ([]protocol.RosterEntry, error) {
	return f.roster[docID], nil
}

func TestRoomPresence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rooms := fakeRooms{roster: map[string][]protocol.RosterEntry{
		"doc-1": {{SessionID: "s1", ParticipantID: "u1", DisplayName: "Ada", Color: "#E57373"}},
	}}
	r := gin.New()
	presence := fakePresence{
		members: map[string][]cache.PresenceMember{"doc-1": {{SessionID: "s1", DisplayName: "Ada"}, {SessionID: "s9", DisplayName: "Bob"}}},
		cursors: map[string][]byte{"s1": []byte(`{"position":12}`)},
	}
	r.GET("/rooms/:docId/presence", NewPresenceHandler(rooms, presence).RoomPresence)

	for _, tc := range []struct {
		doc          string
		want, mirror int
	}{{"doc-1", 1, 2}, {"doc-2", 0, 0}} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/"+tc.doc+"/presence", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", tc.doc, w.Code)
		}
		var resp struct {
			DocID       string                 `json:"docId"`
			ActiveUsers []protocol.RosterEntry `json:"activeUsers"`
			Mirrored    []MirroredMember       `json:"mirrored"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.DocID != tc.doc || len(resp.ActiveUsers) != tc.want || resp.Mirrored == nil || len(resp.Mirrored) != tc.mirror {
			t.Fatalf("%s response = %+v", tc.doc, resp)
		}
		if tc.mirror > 0 {
			if string(resp.Mirrored[0].Cursor) != `{"position":12}` || resp.Mirrored[1].Cursor != nil {
				t.Fatalf("mirrored cursors = %s / %s", resp.Mirrored[0].Cursor, resp.Mirrored[1].Cursor)
			}
		}
	}
}

func TestInlineSuggest_FailedStreamIsNotASuggestion(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/collab/ai/inline-suggest", NewSuggestHandler(&fakeCompleter{
		fragments: []string{" gradient"},
		err:       errors.New("model crashed"),
	}).InlineSuggest)
	srv := httptest.NewServer(r)
	defer srv.Close()

	var got string
	err := suggest.NewHTTPFetcher(srv.URL, "tok").Stream(context.Background(), llm.Request{ContextBefore: "The method uses"}, func(s string) error {
		got += s
		return nil
	})
	if !errors.Is(err, suggest.ErrSuggestionRequestFailed) {
		t.Fatalf("fetch err = %v, fragments = %q", err, got)
	}

	// 走完整个补全流程，部分文本不能被接受
	idle := make(chan struct{}, 1)
	seenPending := false
	p := suggest.New(suggest.NewHTTPFetcher(srv.URL, "tok"), suggest.Options{
		IdleDelay: 5 * time.Millisecond,
		OnStateChange: func(s suggest.State) {
			if s == suggest.Pending {
				seenPending = true
			}
			if s == suggest.Idle && seenPending {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		},
	})
	defer p.Close()
	doc := "In this paper we study optimisation. The method uses"
	p.OnKeystroke(doc, len([]rune(doc)), "")
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatalf("suggestion request did not finish")
	}
	if out, ok := p.Accept(doc); ok || out != doc {
		t.Fatalf("Accept after failed stream = %q, %v", out, ok)
	}
}

func TestInlineSuggest_CompletedStreamTrailer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/collab/ai/inline-suggest", NewSuggestHandler(&fakeCompleter{fragments: []string{" gradient", " descent."}}).InlineSuggest)
	srv := httptest.NewServer(r)
	defer srv.Close()

	var got string
	err := suggest.NewHTTPFetcher(srv.URL, "tok").Stream(context.Background(), llm.Request{ContextBefore: "The method uses"}, func(s string) error {
		got += s
		return nil
	})
	if err != nil || got != " gradient descent." {
		t.Fatalf("fetch = %q, %v", got, err)
	}
}
