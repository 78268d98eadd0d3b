package collab

import "errors"

var (
	// 文档加载失败，入房失败，不创建会话
	ErrRoomUnavailable = errors.New("room unavailable")
	// 防抖写入失败，只进指标和日志，内容保留到下一轮
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	// 会话已经不在房间里了
	ErrStaleOperation = errors.New("stale operation")
	ErrBadContentType = errors.New("unknown content type")
)
