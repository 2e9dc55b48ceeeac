package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/service"
)

const (
	subprotocol    = "fluxcanvas-v1"
	requestTimeout = 10 * time.Second
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

// NewWsUpgrader accepts only requiredOrigin, or any origin when it is empty.
func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if requiredOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == requiredOrigin
		},
		Subprotocols: []string{subprotocol},
	}
}

// ServeWS handles websocket requests from the peer. The token travels as the
// second Sec-WebSocket-Protocol entry since browsers cannot set headers on upgrade.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage, h.ReleasePresence)

	h.Hub.OpenCh <- client

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// ReleasePresence removes the user from every canvas the connection joined,
// whatever way the connection ended.
func (h *Handler) ReleasePresence(client *Client) {
	for canvasId := range client.joinedCanvases {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		if err := h.Service.Leave(ctx, client.user, canvasId); err != nil {
			log.Printf("Failed to release presence of user %s on canvas %s: %v", client.user.Id, canvasId, err)
		}
		cancel()
		delete(client.joinedCanvases, canvasId)
	}
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type canvasMessage struct {
	CanvasId        string `json:"canvasId"`
	SelectedLayerId string `json:"selectedLayerId,omitempty"`
}

type addLayerMessage struct {
	CanvasId  string           `json:"canvasId"`
	RequestId string           `json:"requestId,omitempty"`
	Layer     service.NewLayer `json:"layer"`
}

type updateLayerMessage struct {
	CanvasId string            `json:"canvasId"`
	LayerId  string            `json:"layerId"`
	Patch    models.LayerPatch `json:"patch"`
}

type deleteLayerMessage struct {
	CanvasId string `json:"canvasId"`
	LayerId  string `json:"layerId"`
}

type reflowMessage struct {
	CanvasId  string            `json:"canvasId"`
	PageIndex int               `json:"pageIndex"`
	Viewport  *service.Viewport `json:"viewport,omitempty"`
}

type responseMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, requestTimeout)
	defer cancel()

	var resp responseMessage

	switch msg.Type {
	case "subscribe", "unsubscribe", "join", "heartbeat", "leave":
		var canvasMsg canvasMessage
		if err := json.Unmarshal(msg.Data, &canvasMsg); err != nil {
			log.Printf("Invalid %s data: %v", msg.Type, err)
			return
		}
		switch msg.Type {
		case "subscribe":
			resp = h.handleSubscribe(ctx, client, canvasMsg)
		case "unsubscribe":
			resp = h.handleUnsubscribe(client, canvasMsg)
		case "join":
			resp = h.handleJoin(ctx, client, canvasMsg)
		case "heartbeat":
			resp = h.handleHeartbeat(ctx, client, canvasMsg)
		case "leave":
			resp = h.handleLeave(ctx, client, canvasMsg)
		}

	case "add_layer":
		var addMsg addLayerMessage
		if err := json.Unmarshal(msg.Data, &addMsg); err != nil {
			log.Printf("Invalid add_layer data: %v", err)
			return
		}
		resp = h.handleAddLayer(ctx, client, addMsg)

	case "update_layer":
		var updateMsg updateLayerMessage
		if err := json.Unmarshal(msg.Data, &updateMsg); err != nil {
			log.Printf("Invalid update_layer data: %v", err)
			return
		}
		resp = h.handleUpdateLayer(ctx, client, updateMsg)

	case "delete_layer":
		var deleteMsg deleteLayerMessage
		if err := json.Unmarshal(msg.Data, &deleteMsg); err != nil {
			log.Printf("Invalid delete_layer data: %v", err)
			return
		}
		resp = h.handleDeleteLayer(ctx, client, deleteMsg)

	case "reflow":
		var reflowMsg reflowMessage
		if err := json.Unmarshal(msg.Data, &reflowMsg); err != nil {
			log.Printf("Invalid reflow data: %v", err)
			return
		}
		resp = h.handleReflow(ctx, client, reflowMsg)

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.send(respBytes)
	}
}

func newResponse(msgType string, data map[string]any) responseMessage {
	data["success"] = true
	return responseMessage{Type: msgType + "_response", Data: data}
}

// failed marks resp as failed with the error kind so clients can branch on it.
func failed(resp responseMessage, op string, err error) responseMessage {
	log.Printf("%s failed: %v", op, err)
	resp.Data["success"] = false
	resp.Data["error"] = err.Error()
	resp.Data["kind"] = apperror.Kind(err)
	return resp
}

// handleSubscribe registers the subscription before reading the snapshot, so
// every change after the snapshot reaches the client as an event.
func (h *Handler) handleSubscribe(ctx context.Context, client *Client, canvasMsg canvasMessage) responseMessage {
	resp := newResponse("subscribe", map[string]any{"canvasId": canvasMsg.CanvasId})

	if _, err := h.Service.Snapshot(ctx, client.user, canvasMsg.CanvasId); err != nil {
		return failed(resp, "Subscribe", err)
	}

	if err := h.hubRequest(client, h.Hub.SubscribeCh, canvasMsg.CanvasId); err != nil {
		return failed(resp, "Subscribe", err)
	}

	canvas, err := h.Service.Snapshot(ctx, client.user, canvasMsg.CanvasId)
	if err != nil {
		h.hubRequest(client, h.Hub.UnsubscribeCh, canvasMsg.CanvasId)
		return failed(resp, "Subscribe", err)
	}
	resp.Data["canvas"] = canvas
	return resp
}

func (h *Handler) handleUnsubscribe(client *Client, canvasMsg canvasMessage) responseMessage {
	resp := newResponse("unsubscribe", map[string]any{"canvasId": canvasMsg.CanvasId})
	if err := h.hubRequest(client, h.Hub.UnsubscribeCh, canvasMsg.CanvasId); err != nil {
		return failed(resp, "Unsubscribe", err)
	}
	return resp
}

// hubRequest hands a subscription change to the hub and waits for the result.
func (h *Handler) hubRequest(client *Client, ch chan subscription, canvasId string) error {
	result := make(chan error, 1)
	ch <- subscription{client: client, canvasId: canvasId, result: result}
	select {
	case err := <-result:
		return err
	case <-client.ctx.Done():
		return errConnectionClosed
	}
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, canvasMsg canvasMessage) responseMessage {
	resp := newResponse("join", map[string]any{"canvasId": canvasMsg.CanvasId})

	collaborators, err := h.Service.Join(ctx, client.user, canvasMsg.CanvasId)
	if err != nil {
		return failed(resp, "Join", err)
	}
	client.joinedCanvases[canvasMsg.CanvasId] = struct{}{}
	resp.Data["collaborators"] = collaborators
	return resp
}

func (h *Handler) handleHeartbeat(ctx context.Context, client *Client, canvasMsg canvasMessage) responseMessage {
	resp := newResponse("heartbeat", map[string]any{"canvasId": canvasMsg.CanvasId})

	if _, ok := client.joinedCanvases[canvasMsg.CanvasId]; !ok {
		return failed(resp, "Heartbeat", apperror.ValidationFailed("canvasId", "join the canvas before sending heartbeats"))
	}
	if err := h.Service.Heartbeat(ctx, client.user, canvasMsg.CanvasId, canvasMsg.SelectedLayerId); err != nil {
		return failed(resp, "Heartbeat", err)
	}
	return resp
}

func (h *Handler) handleLeave(ctx context.Context, client *Client, canvasMsg canvasMessage) responseMessage {
	resp := newResponse("leave", map[string]any{"canvasId": canvasMsg.CanvasId})

	delete(client.joinedCanvases, canvasMsg.CanvasId)
	if err := h.Service.Leave(ctx, client.user, canvasMsg.CanvasId); err != nil {
		return failed(resp, "Leave", err)
	}
	return resp
}

func (h *Handler) handleAddLayer(ctx context.Context, client *Client, addMsg addLayerMessage) responseMessage {
	resp := newResponse("add_layer", map[string]any{"canvasId": addMsg.CanvasId, "requestId": addMsg.RequestId})

	layer, err := h.Service.AddLayer(ctx, client.user, addMsg.CanvasId, addMsg.Layer)
	if err != nil {
		return failed(resp, "AddLayer", err)
	}
	resp.Data["layer"] = layer
	return resp
}

func (h *Handler) handleUpdateLayer(ctx context.Context, client *Client, updateMsg updateLayerMessage) responseMessage {
	resp := newResponse("update_layer", map[string]any{"canvasId": updateMsg.CanvasId, "layerId": updateMsg.LayerId})

	layer, err := h.Service.UpdateLayer(ctx, client.user, updateMsg.CanvasId, updateMsg.LayerId, updateMsg.Patch)
	if err != nil {
		return failed(resp, "UpdateLayer", err)
	}
	resp.Data["layer"] = layer
	return resp
}

func (h *Handler) handleDeleteLayer(ctx context.Context, client *Client, deleteMsg deleteLayerMessage) responseMessage {
	resp := newResponse("delete_layer", map[string]any{"canvasId": deleteMsg.CanvasId, "layerId": deleteMsg.LayerId})

	if err := h.Service.DeleteLayer(ctx, client.user, deleteMsg.CanvasId, deleteMsg.LayerId); err != nil {
		return failed(resp, "DeleteLayer", err)
	}
	return resp
}

func (h *Handler) handleReflow(ctx context.Context, client *Client, reflowMsg reflowMessage) responseMessage {
	resp := newResponse("reflow", map[string]any{"canvasId": reflowMsg.CanvasId, "pageIndex": reflowMsg.PageIndex})

	layers, err := h.Service.ReflowPage(ctx, client.user, reflowMsg.CanvasId, reflowMsg.PageIndex, reflowMsg.Viewport)
	if err != nil {
		return failed(resp, "ReflowPage", err)
	}
	resp.Data["layers"] = layers
	return resp
}
