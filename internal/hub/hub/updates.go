package hub

import (
	"path/filepath"
	"strconv"

	"github.com/collabhub/collabhub/internal/hub/notify"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// BroadcastUpdate fans a file-change notification out to every
// session, both as the generic realtime-update frame and as the typed
// data stream clients subscribe to.
func (h *Hub) BroadcastUpdate(n notify.Notification) {
	h.Broadcast(wire.RealtimeUpdate{
		Type:       "realtime-update",
		UpdateType: string(n.Type),
		Path:       n.Path,
		Name:       filepath.Base(n.Path),
		Kind:       string(n.Kind),
		Priority:   strconv.Itoa(int(n.Priority)),
		Timestamp:  timefmt.Format(n.Timestamp),
	}, "")

	h.Broadcast(wire.DataMessage{Type: streamType(n.Type), Data: n}, "")
}

// streamType maps notification types onto their dedicated outbound
// frame types.
func streamType(t notify.Type) string {
	switch t {
	case notify.TypeTaskBoardUpdated:
		return "task-board-update"
	case notify.TypeDiscussionUpdated:
		return "discussion-update"
	case notify.TypeNewMessage:
		return "new-message-notification"
	default:
		return "file-update"
	}
}
