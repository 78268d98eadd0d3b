package buffer

import (
	"fmt"
	"strings"

	"draftCollab/backend/internal/ot/delta"
)

type source int

const (
	srcOriginal source = iota
	srcAdd
)

type piece struct {
	src    source
	offset int
	length int
}

// PieceTable：original 只读，新增文本只追加到 add，文档由 pieces 顺序拼出
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r}
	if len(r) > 0 {
		pt.pieces = []piece{{src: srcOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		sb.WriteString(string(pt.runes(p)))
	}
	return sb.String()
}

func (pt *PieceTable) runes(p piece) []rune {
	if p.src == srcOriginal {
		return pt.original[p.offset : p.offset+p.length]
	}
	return pt.add[p.offset : p.offset+p.length]
}

// Apply 先整体校验长度再修改，校验失败时不改动内容
func (pt *PieceTable) Apply(d delta.Delta) error {
	if base, n := d.BaseLen(), pt.Len(); base > n {
		return fmt.Errorf("%w: need %d, have %d", ErrOutOfRange, base, n)
	}
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			pos += pt.insert(pos, []rune(op.Text))
		case delta.KindDelete:
			pt.delete(pos, op.Count)
		}
	}
	return nil
}

func (pt *PieceTable) insert(pos int, text []rune) int {
	if len(text) == 0 {
		return 0
	}
	np := piece{src: srcAdd, offset: len(pt.add), length: len(text)}
	pt.add = append(pt.add, text...)

	idx, off := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, np)
		return len(text)
	}
	cur := pt.pieces[idx]
	out := make([]piece, 0, len(pt.pieces)+2)
	out = append(out, pt.pieces[:idx]...)
	if off > 0 {
		out = append(out, piece{src: cur.src, offset: cur.offset, length: off})
	}
	out = append(out, np)
	out = append(out, piece{src: cur.src, offset: cur.offset + off, length: cur.length - off})
	out = append(out, pt.pieces[idx+1:]...)
	pt.pieces = out
	return len(text)
}

func (pt *PieceTable) delete(pos, n int) {
	for n > 0 {
		idx, off := pt.locate(pos)
		if idx == len(pt.pieces) {
			return
		}
		cur := pt.pieces[idx]
		take := min(n, cur.length-off)

		var repl []piece
		if off > 0 {
			repl = append(repl, piece{src: cur.src, offset: cur.offset, length: off})
		}
		if rest := cur.length - off - take; rest > 0 {
			repl = append(repl, piece{src: cur.src, offset: cur.offset + off + take, length: rest})
		}
		out := make([]piece, 0, len(pt.pieces)+1)
		out = append(out, pt.pieces[:idx]...)
		out = append(out, repl...)
		out = append(out, pt.pieces[idx+1:]...)
		pt.pieces = out
		n -= take
	}
}

// 根据逻辑位置 pos，找到对应的 piece 下标和 piece 内偏移
func (pt *PieceTable) locate(pos int) (int, int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
