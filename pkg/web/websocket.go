package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liut/inkwell/pkg/stream"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// wsMessages is the socket form of postMessage: each text message in is a
// {"content"} request, each text message out is one frame, and a request is
// answered fully before the next one is read.
func (s *server) wsMessages(w http.ResponseWriter, r *http.Request) {
	cs := s.loadConversation(w, r)
	if cs == nil {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger().Infow("ws upgrade fail", "cid", cs.ID, "err", err)
		return
	}
	defer conn.Close()

	send := func(f stream.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(f)
	}

	ctx := r.Context()
	for {
		var param messageReq
		if err := conn.ReadJSON(&param); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger().Infow("ws read fail", "cid", cs.ID, "err", err)
			}
			return
		}
		if len(strings.TrimSpace(param.Content)) == 0 {
			sendFrame(send, stream.Frame{Error: "empty content"})
			continue
		}
		release, ok := s.claim(cs.ID)
		if !ok {
			sendFrame(send, stream.Frame{Error: "conversation busy"})
			continue
		}
		history, err := s.prepare(ctx, cs.ID, param.Content)
		if err != nil {
			release()
			logger().Infow("ws prepare fail", "cid", cs.ID, "err", err)
			sendFrame(send, stream.Frame{Error: "failed to save message"})
			continue
		}
		s.reply(ctx, cs.ID, history, send, release)
	}
}
