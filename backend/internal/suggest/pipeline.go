package suggest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"draftCollab/backend/internal/llm"
	"draftCollab/backend/internal/ot/buffer"
)

var ErrSuggestionRequestFailed = errors.New("suggestion request failed")

var errSuperseded = errors.New("suggestion superseded")

type State int

const (
	Idle State = iota
	Pending
	Streaming
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Fetcher：补全流的来源，llm.Completer 和 HTTPFetcher 都满足
type Fetcher interface {
	Stream(ctx context.Context, req llm.Request, onFragment func(string) error) error
}

// Overlay：当前可展示的幽灵文本
type Overlay struct {
	Text    string
	Anchor  int  // 触发时记录的光标（rune 偏移）
	Visible bool // 触发后光标移动过就为 false，移回 Anchor 也不恢复
}

type Options struct {
	IdleDelay  time.Duration // 默认 1.2s
	MinContext int           // 光标前上下文至少多少个非空白字符，默认 20
	// 回调在 Pipeline 内部锁中执行，不能在回调里再调用 Pipeline
	OnStateChange func(State)
	OnOverlay     func(Overlay)
}

// Pipeline：一个编辑会话的行内补全状态机，同时最多一个请求在途
type Pipeline struct {
	fetcher Fetcher
	opt     Options

	mu     sync.Mutex
	state  State
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool

	doc    string
	title  string
	cursor int
	anchor int
	moved  bool // 触发后光标动过，本条建议不能再接受
	text   strings.Builder
}

func New(fetcher Fetcher, opt Options) *Pipeline {
	if opt.IdleDelay <= 0 {
		opt.IdleDelay = 1200 * time.Millisecond
	}
	if opt.MinContext <= 0 {
		opt.MinContext = 20
	}
	return &Pipeline{fetcher: fetcher, opt: opt}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Overlay() Overlay {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlayLocked()
}

// OnKeystroke 取消在途请求，丢弃旧建议，用最新文档重新开始计时
func (p *Pipeline) OnKeystroke(doc string, cursor int, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.resetLocked()
	p.doc, p.cursor, p.title = doc, cursor, title

	gen := p.gen
	p.timer = time.AfterFunc(p.opt.IdleDelay, func() { p.fire(gen) })
}

// MoveCursor 只移动光标，不触发新请求；离开锚点后浮层隐藏
func (p *Pipeline) MoveCursor(cursor int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.cursor == cursor {
		return
	}
	p.cursor = cursor
	if p.state != Idle || p.text.Len() > 0 {
		p.moved = true
	}
	if p.text.Len() > 0 {
		p.emitOverlayLocked()
	}
}

// Accept 把已累积的建议插入 doc 的锚点位置；光标移动过或没有建议时返回 false
func (p *Pipeline) Accept(doc string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return doc, false
	}
	text, anchor, ok := p.text.String(), p.anchor, p.acceptableLocked()
	p.resetLocked()
	if !ok {
		return doc, false
	}
	out, err := buffer.Splice(doc, anchor, text)
	if err != nil {
		log.Printf("accept suggestion at %d failed: %v", anchor, err)
		return doc, false
	}
	p.cursor = anchor + len([]rune(text))
	return out, true
}

func (p *Pipeline) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.resetLocked()
	}
}

// Close 会话结束时调用，之后所有方法都是空操作
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.resetLocked()
	p.closed = true
}

// resetLocked 停掉计时器，取消在途请求并清空建议
func (p *Pipeline) resetLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	hadText := p.text.Len() > 0
	p.text.Reset()
	p.moved = false
	if p.state != Idle {
		p.setStateLocked(Cancelled)
		p.setStateLocked(Idle)
	}
	if hadText {
		p.emitOverlayLocked()
	}
}

func (p *Pipeline) fire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.gen || p.state != Idle {
		return
	}
	p.timer = nil
	req := llm.Request{
		ContextBefore: contextBefore(p.doc, p.cursor),
		ContextAfter:  contextAfter(p.doc, p.cursor),
		Title:         p.title,
	}
	if nonSpace(req.ContextBefore) < p.opt.MinContext {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.anchor = p.cursor
	p.setStateLocked(Pending)
	go p.run(ctx, cancel, gen, req)
}

func (p *Pipeline) run(ctx context.Context, cancel context.CancelFunc, gen uint64, req llm.Request) {
	defer cancel()
	err := p.fetcher.Stream(ctx, req, func(fragment string) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if gen != p.gen {
			return errSuperseded
		}
		if p.state == Pending {
			p.setStateLocked(Streaming)
		}
		p.text.WriteString(fragment)
		p.emitOverlayLocked()
		return nil
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}
	p.cancel = nil
	if err != nil {
		// 失败只当作没有建议
		log.Printf("%v: %v", ErrSuggestionRequestFailed, err)
		if p.text.Len() > 0 {
			p.text.Reset()
			p.emitOverlayLocked()
		}
	}
	// 正常结束：建议保留在浮层上等待接受
	p.setStateLocked(Idle)
}

func (p *Pipeline) setStateLocked(s State) {
	if p.state == s {
		return
	}
	p.state = s
	if p.opt.OnStateChange != nil {
		p.opt.OnStateChange(s)
	}
}

func (p *Pipeline) overlayLocked() Overlay {
	return Overlay{Text: p.text.String(), Anchor: p.anchor, Visible: p.acceptableLocked()}
}

func (p *Pipeline) acceptableLocked() bool {
	return p.text.Len() > 0 && !p.moved && p.cursor == p.anchor
}

func (p *Pipeline) emitOverlayLocked() {
	if p.opt.OnOverlay != nil {
		p.opt.OnOverlay(p.overlayLocked())
	}
}

func contextBefore(doc string, cursor int) string {
	r := []rune(doc)
	cursor = clamp(cursor, len(r))
	start := cursor - llm.MaxContextBefore
	if start < 0 {
		start = 0
	}
	return string(r[start:cursor])
}

func contextAfter(doc string, cursor int) string {
	r := []rune(doc)
	cursor = clamp(cursor, len(r))
	end := cursor + llm.MaxContextAfter
	if end > len(r) {
		end = len(r)
	}
	return string(r[cursor:end])
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func nonSpace(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
