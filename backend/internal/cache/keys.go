package cache

import (
	"fmt"
	"strconv"
)

// 键语义：
// - roomKey(docID):              房间在线会话（ZSet<sessionId, expireAtUnix>）
// - membersKey(docID):           sessionId -> 成员信息 JSON（Hash）
// - cursorKey(docID, sessionID): 会话最后的光标（String，带 TTL）
// - nameKey(userID):             展示名缓存（String）

const (
	keyRoomFmt    = "presence:room:{docID:%s}"
	keyMembersFmt = "presence:room:members:{docID:%s}"
	keyCursorFmt  = "presence:cursor:{docID:%s}:%s"
	keyNameFmt    = "profile:name:%s"
)

func roomKey(docID string) string    { return fmt.Sprintf(keyRoomFmt, docID) }
func membersKey(docID string) string { return fmt.Sprintf(keyMembersFmt, docID) }
func cursorKey(docID, sessionID string) string {
	return fmt.Sprintf(keyCursorFmt, docID, sessionID)
}
func nameKey(userID uint64) string { return fmt.Sprintf(keyNameFmt, strconv.FormatUint(userID, 10)) }
