package server

import (
	"net/http"
	"time"

	"secure_drop/internal/model"
	"secure_drop/internal/service/delivery"
	"secure_drop/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Watch upgrades to a websocket and pushes a SlotView every watchInterval
// until the slot is no longer pending or the client goes away.
func (s *HttpServer) Watch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := model.ValidateRecipientID(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("watch upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					log.Debug("watch socket closed", zap.String("recipient", id), zap.Error(err))
					return
				}
			}
		}()

		ticker := time.NewTicker(s.watchInterval)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			st, err := s.delivery.Inspect(ctx, id)
			if err != nil {
				log.Error("watch inspect failed", zap.String("recipient", id), zap.Error(err))
				s.closeWatch(conn, websocket.CloseInternalServerErr, "inspect failed")
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(slotView(st)); err != nil {
				log.Debug("watch write failed", zap.String("recipient", id), zap.Error(err))
				return
			}
			if st.Status != delivery.StatusPending {
				s.closeWatch(conn, websocket.CloseNormalClosure, st.Status.String())
				return
			}

			select {
			case <-closed:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func (s *HttpServer) closeWatch(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.Debug("watch close failed", zap.Error(err))
	}
}
