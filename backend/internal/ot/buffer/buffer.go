package buffer

import (
	"errors"

	"draftCollab/backend/internal/ot/delta"
)

var ErrOutOfRange = errors.New("delta exceeds buffer length")

// 抽象文档内容缓冲区接口
type Buffer interface {
	Len() int
	Apply(d delta.Delta) error
	String() string
}

// Splice：把 text 插到 content 的 at（rune 偏移）处
func Splice(content string, at int, text string) (string, error) {
	return applyTo(NewPieceTable(content), delta.Insert(at, text))
}

// Cut：删掉 content 从 at 开始的 n 个 rune
func Cut(content string, at, n int) (string, error) {
	return applyTo(NewPieceTable(content), delta.Delete(at, n))
}

func applyTo(b Buffer, d delta.Delta) (string, error) {
	if err := b.Apply(d); err != nil {
		return "", err
	}
	return b.String(), nil
}
