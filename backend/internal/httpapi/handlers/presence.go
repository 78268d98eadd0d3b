package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"draftCollab/backend/internal/cache"
	"draftCollab/backend/internal/protocol"
)

// 房间内存名单，由 collab.Registry 实现
type RosterLister interface {
	ListSessions(ctx context.Context, docID string) ([]protocol.RosterEntry, error)
}

type PresenceHandler struct {
	rooms    RosterLister
	presence cache.PresenceCache // 可以为 nil
}

func NewPresenceHandler(rooms RosterLister, presence cache.PresenceCache) *PresenceHandler {
	return &PresenceHandler{rooms: rooms, presence: presence}
}

// MirroredMember：Redis 中的成员加上它最后上报的光标
type MirroredMember struct {
	cache.PresenceMember
	Cursor json.RawMessage `json:"cursor,omitempty"`
}

// RoomPresence GET /collab/rooms/:docId/presence
// activeUsers 取自内存房间；mirrored 是 Redis 中未过期的成员（跨实例可见）
func (h *PresenceHandler) RoomPresence(c *gin.Context) {
	docID := c.Param("docId")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "docId is required"})
		return
	}
	ctx := c.Request.Context()
	roster, err := h.rooms.ListSessions(ctx, docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	if roster == nil {
		roster = []protocol.RosterEntry{}
	}

	mirrored := []MirroredMember{}
	if h.presence != nil {
		members, err := h.presence.GetAliveMembers(ctx, docID)
		if err != nil {
			log.Printf("read presence mirror failed doc=%s: %v", docID, err)
		}
		for _, m := range members {
			mm := MirroredMember{PresenceMember: m}
			// 光标只是附带信息，读失败不影响名单
			if cur, err := h.presence.GetCursor(ctx, docID, m.SessionID); err != nil {
				log.Printf("read cursor mirror failed doc=%s session=%s: %v", docID, m.SessionID, err)
			} else if json.Valid(cur) {
				mm.Cursor = cur
			}
			mirrored = append(mirrored, mm)
		}
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "activeUsers": roster, "mirrored": mirrored})
}
