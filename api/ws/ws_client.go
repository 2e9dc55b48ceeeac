package ws

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/fluxcanvas/models"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 16

	// Rate limiting: 20 messages per second with a burst of 30.
	// Heartbeats every 5s per joined canvas stay well below this.
	messagesPerSecond = 20
	burstLimit        = 30
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

// ReleaseHandler runs once when the read side of a connection ends.
type ReleaseHandler func(client *Client)

func NewClient(hub *Hub, conn *websocket.Conn, user models.User, handler MessageHandler, release ReleaseHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:                hub,
		conn:               conn,
		user:               user,
		handler:            handler,
		release:            release,
		subscribedCanvases: make(map[string]struct{}),
		joinedCanvases:     make(map[string]struct{}),
		Send:               make(chan []byte, 128),
		ctx:                ctx,
		cancel:             cancel,
		limiter:            rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	user    models.User
	handler MessageHandler
	release ReleaseHandler

	// owned by the hub goroutine
	subscribedCanvases map[string]struct{}
	// owned by the read goroutine
	joinedCanvases map[string]struct{}

	Send    chan []byte // Buffered channel of outbound messages.
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
}

// send queues message without blocking. A full buffer means the peer is not
// keeping up, so the message is dropped.
func (c *Client) send(message []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.Send <- message:
		return true
	default:
		log.Printf("Dropping message for user %s: send buffer full", c.user.Id)
		return false
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) ReadPump() {
	defer func() {
		if c.release != nil {
			c.release(c)
		}
		c.hub.CloseCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS close error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("Closing connection for user %s: message rate limit exceeded", c.user.Id)
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()
	for {
		select {
		case message := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WS send error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
