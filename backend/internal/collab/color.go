package collab

import "github.com/cespare/xxhash/v2"

var palette = [...]string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
	"#BB8FCE", "#85C1E9", "#F0B27A", "#82E0AA",
}

// ColorFor 同一个参与者在任何会话、任何实例上都拿到同一个颜色
func ColorFor(participantID string) string {
	return palette[xxhash.Sum64String(participantID)%uint64(len(palette))]
}
