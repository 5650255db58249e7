package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storybook-server/internal/batch"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов, меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не шлет, кроме управляющих кадров.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin проверяется CORS на уровне роутера
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamJob отдает прогресс задания в WebSocket: сначала уже случившиеся
// события, затем новые. Соединение закрывается после терминального события.
func (h *Handler) streamJob(c *gin.Context) {
	jobID := c.Param("id")
	events, unsubscribe, err := h.batches.Subscribe(jobID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		h.logger.Error("Failed to upgrade connection", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	log := h.logger.With(zap.String("job_id", jobID))
	log.Info("WebSocket progress stream opened")

	closed := make(chan struct{})
	go readPump(conn, closed, log)
	writePump(conn, events, closed, log)
	_ = conn.Close()
	log.Info("WebSocket progress stream closed")
}

// readPump читает управляющие кадры, пока клиент не закроет соединение.
func readPump(conn *websocket.Conn, closed chan<- struct{}, log *zap.Logger) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		log.Debug("Ignoring message from client")
	}
}

func writePump(conn *websocket.Conn, events <-chan batch.Progress, closed <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case p, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			if err := conn.WriteJSON(p); err != nil {
				log.Error("Failed to write progress event", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn("Failed to send ping", zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}
