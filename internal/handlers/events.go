package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/camqr/internal/scanner"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StateMessage is the JSON document served by /scan/state and pushed on
// /scan/events.
type StateMessage struct {
	SessionID string     `json:"session_id"`
	Content   string     `json:"content"`
	Valid     bool       `json:"valid"`
	Completed bool       `json:"completed"`
	Stats     StatsBlock `json:"stats"`
}

// StatsBlock mirrors scanner.Stats.
type StatsBlock struct {
	Frames         uint64 `json:"frames"`
	EmptyFrames    uint64 `json:"empty_frames"`
	DecodeFailures uint64 `json:"decode_failures"`
	QRHits         uint64 `json:"qr_hits"`
	Binds          uint64 `json:"binds"`
}

func snapshotState(session Session) StateMessage {
	text := session.Content().Get()
	stats := session.Stats()
	return StateMessage{
		SessionID: session.ID(),
		Content:   text.Text,
		Valid:     text.Valid,
		Completed: session.Completed().Get(),
		Stats:     statsBlock(stats),
	}
}

func statsBlock(s scanner.Stats) StatsBlock {
	return StatsBlock{
		Frames:         s.Frames,
		EmptyFrames:    s.EmptyFrames,
		DecodeFailures: s.DecodeFailures,
		QRHits:         s.QRHits,
		Binds:          s.Binds,
	}
}

// streamState upgrades the request and pushes a StateMessage whenever the
// session's content or completion flag changes.
func streamState(c *gin.Context, session Session, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	contentCh, cancelContent := session.Content().Subscribe()
	defer cancelContent()
	completedCh, cancelCompleted := session.Completed().Subscribe()
	defer cancelCompleted()

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	logger.Debug("websocket connected", zap.String("session_id", session.ID()))
	var last StateMessage
	sent := false
	for {
		select {
		case <-closed:
			logger.Debug("websocket disconnected", zap.String("session_id", session.ID()))
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-contentCh:
		case <-completedCh:
		}

		// Stats are excluded from change detection so frame counters alone
		// do not flood the stream.
		msg := snapshotState(session)
		if sent && msg.Content == last.Content && msg.Valid == last.Valid && msg.Completed == last.Completed {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
		last, sent = msg, true
	}
}

// readPump drains client frames so control messages are processed and
// closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
