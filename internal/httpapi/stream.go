package httpapi

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shelfsync/shelfsync/internal/catalog"
)

type streamFrame struct {
	Source   *string           `json:"source"`
	Listings []catalog.Listing `json:"listings"`
}

// handleStream pushes a snapshot of the active collection on every cache
// change. The first frame is the current state, so a client never has to
// pair the stream with a separate snapshot request.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("listings stream upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	id, updates := s.catalog.Subscribe()
	defer s.catalog.Unsubscribe(id)

	ctx := conn.CloseRead(r.Context())

	if err := wsjson.Write(ctx, conn, s.currentFrame()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snapshot, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			frame := streamFrame{Listings: snapshot}
			if kind, active := s.catalog.ActiveSource(); active {
				name := kind.String()
				frame.Source = &name
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) currentFrame() streamFrame {
	frame := streamFrame{Listings: s.catalog.Listings()}
	if kind, active := s.catalog.ActiveSource(); active {
		name := kind.String()
		frame.Source = &name
	}
	return frame
}
