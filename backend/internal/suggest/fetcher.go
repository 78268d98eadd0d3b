package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"draftCollab/backend/internal/llm"
)

// HTTPFetcher：调用服务端的 /collab/ai/inline-suggest，响应体按到达的字节块回调
type HTTPFetcher struct {
	client *http.Client
	url    string
	token  string
}

// baseURL 例如 http://localhost:8082
func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		// 流式响应不设整体超时，靠 ctx 取消
		client: &http.Client{},
		url:    strings.TrimRight(baseURL, "/") + "/collab/ai/inline-suggest",
		token:  token,
	}
}

func (f *HTTPFetcher) Stream(ctx context.Context, req llm.Request, onFragment func(string) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSuggestionRequestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrSuggestionRequestFailed, resp.StatusCode)
	}

	buf := make([]byte, 512)
	var carry []byte
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			// 块边界可能切断多字节字符，不完整的尾巴留到下一块
			carry = append(carry, buf[:n]...)
			complete, rest := splitComplete(carry)
			if len(complete) > 0 {
				if err := onFragment(string(complete)); err != nil {
					return err
				}
			}
			carry = append(carry[:0:0], rest...)
		}
		if errors.Is(rerr, io.EOF) {
			// trailer 在读到 EOF 之后才可用，不是 ok 的流整段作废
			if st := resp.Trailer.Get(llm.StreamStatusTrailer); st != llm.StreamOK {
				return fmt.Errorf("%w: stream ended with status %q", ErrSuggestionRequestFailed, st)
			}
			if len(carry) > 0 {
				return onFragment(string(carry))
			}
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrSuggestionRequestFailed, rerr)
		}
	}
}

func splitComplete(b []byte) ([]byte, []byte) {
	// 最多回看 utf8.UTFMax-1 个字节找到最后一个字符的起点
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return b, nil
			}
			return b[:i], b[i:]
		}
	}
	return b, nil
}
