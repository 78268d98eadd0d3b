package delta

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind   `json:"kind"`            // "retain" / "insert" / "delete"
	Count int    `json:"count,omitempty"` // retain/delete 的长度（rune）
	Text  string `json:"text,omitempty"`  // insert 的文本
}

type Delta []Op

// Insert：在 at 处插入 text
func Insert(at int, text string) Delta {
	d := Delta{}
	if at > 0 {
		d = append(d, Op{Kind: KindRetain, Count: at})
	}
	if text != "" {
		d = append(d, Op{Kind: KindInsert, Text: text})
	}
	return d
}

// Delete：从 at 开始删 n 个字符
func Delete(at, n int) Delta {
	d := Delta{}
	if at > 0 {
		d = append(d, Op{Kind: KindRetain, Count: at})
	}
	if n > 0 {
		d = append(d, Op{Kind: KindDelete, Count: n})
	}
	return d
}

// BaseLen：应用这个 delta 至少需要的原文长度
func (d Delta) BaseLen() int {
	n := 0
	for _, op := range d {
		if op.Kind == KindRetain || op.Kind == KindDelete {
			n += op.Count
		}
	}
	return n
}
