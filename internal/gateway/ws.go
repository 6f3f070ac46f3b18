package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSender adapts one websocket connection to the hub's Sender.
// Broadcast fan-out and read-loop command replies both write to the
// same connection, and gorilla allows only one concurrent writer, so
// every write takes the mutex.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// bearerFromRequest pulls the token from the Authorization header or,
// for browser clients that cannot set headers on websockets, from the
// token query parameter.
func bearerFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// Handler upgrades subscriber connections and runs their read loop.
func Handler(hub *Hub, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		token := bearerFromRequest(c)
		// Reject bad tokens before paying for the upgrade.
		if !wellFormedToken(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "err", err)
			return
		}

		sender := &wsSender{conn: conn}
		sess, err := hub.Admit(token, sender)
		if err != nil {
			_ = sender.Send(reject(RejectUnauthorized))
			_ = conn.Close()
			return
		}
		defer func() {
			hub.Disconnect(sess)
			_ = conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("subscriber read failed", "extension", sess.Extension, "err", err)
				}
				return
			}

			cmd, err := ParseCommand(data)
			if err != nil {
				if werr := sender.Send(reject(err.Error())); werr != nil {
					return
				}
				continue
			}

			var res Result
			switch cmd.Type {
			case CmdSubscribeCall:
				res = hub.Subscribe(sess, cmd.CallID)
			case CmdUnsubscribeCall:
				res = hub.Unsubscribe(sess, cmd.CallID)
			case CmdSubmitHITL:
				res = hub.SubmitHITL(c.Request.Context(), sess, cmd)
			}
			if err := sender.Send(res); err != nil {
				return
			}
		}
	}
}
