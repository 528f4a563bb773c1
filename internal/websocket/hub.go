package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
	"github.com/exbuilderia/studio/server/internal/videogen"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed for a finished recording to be transcribed.
	transcribeTimeout = 60 * time.Second

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// TranscribeFunc turns a finished recording of accountID into text
type TranscribeFunc func(ctx context.Context, accountID string, audio entities.MediaPayload) (string, error)

// RecorderFactory creates the recorder backing one connection
type RecorderFactory func() repositories.AudioRecorder

// Hub keeps the open connections of every account. An account may hold
// several connections; published messages reach all of them.
type Hub struct {
	// Registered clients, by account.
	clients map[string]map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	transcribe  TranscribeFunc
	newRecorder RecorderFactory
	validator   *MessageValidator

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(transcribe TranscribeFunc, newRecorder RecorderFactory, logger *zap.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		transcribe:  transcribe,
		newRecorder: newRecorder,
		validator:   NewMessageValidator(),
		logger:      logger,
	}
}

// Run starts the hub's main loop. It returns once ctx is done, closing every
// connection still open.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.accountID] == nil {
				h.clients[client.accountID] = make(map[*Client]struct{})
			}
			h.clients[client.accountID][client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("accountID", client.accountID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("accountID", client.accountID))

		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

// remove must be called with h.mu held
func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.accountID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.accountID)
	}
	client.closed = true
	close(client.send)
}

// ClientCount reports how many connections accountID holds
func (h *Hub) ClientCount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// Publish sends payload as JSON to every connection of accountID. Slow
// connections drop the message rather than block the publisher.
func (h *Hub) Publish(accountID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.String("accountID", accountID), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[accountID] {
		client.trySend(WriteData{Type: websocket.TextMessage, Payload: data})
	}
}

// ProgressSink streams job progress to the connections of accountID
func (h *Hub) ProgressSink(accountID string) videogen.ProgressSink {
	return func(p videogen.Progress) {
		h.Publish(accountID, NewProgressMessage(p))
	}
}

// PublishJobResult closes the progress stream of a job
func (h *Hub) PublishJobResult(accountID, jobID string, err error) {
	h.Publish(accountID, NewJobResultMessage(jobID, err))
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// closed is guarded by hub.mu
	closed bool

	accountID string

	logger *zap.Logger

	// Recording captured from the client microphone
	recorder repositories.AudioRecorder
}

// HandleWebSocketWithAuth upgrades the request for an authenticated account
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, accountID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, sendBufferSize),
		accountID: accountID,
		logger:    logger.With(zap.String("accountID", accountID)),
		recorder:  hub.newRecorder(),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// trySend queues data unless the client is gone or its buffer is full.
// Callers must hold hub.mu for reading.
func (c *Client) trySend(data WriteData) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Dropping message for slow client")
	}
}

// reply queues a JSON message for this client only
func (c *Client) reply(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	c.hub.mu.RLock()
	c.trySend(WriteData{Type: websocket.TextMessage, Payload: data})
	c.hub.mu.RUnlock()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		if c.recorder.Recording() {
			if audio, err := c.recorder.Stop(); err == nil {
				c.logger.Info("Discarding unfinished recording", zap.Int("bytes", len(audio.Data)))
			}
		}
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage handles a control message from the client
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected client message", zap.Error(err))
		c.reply(NewErrorMessage(domain.KindInvalidInput, err.Error()))
		return
	}

	switch msg.Type {
	case domain.MessageTypeRecordingStart:
		c.handleRecordingStart(msg)
	case domain.MessageTypeRecordingStop:
		c.handleRecordingStop()
	}
}

// processAudioChunk appends binary audio to the current recording
func (c *Client) processAudioChunk(data []byte) {
	if err := c.recorder.Write(data); err != nil {
		c.logger.Warn("Failed to record audio chunk", zap.Int("size", len(data)), zap.Error(err))
		kind := domain.KindOf(err)
		c.reply(NewErrorMessage(kind, domain.UserMessage(kind)))
		return
	}
	c.logger.Debug("Recorded audio chunk", zap.Int("size", len(data)))
}

func (c *Client) handleRecordingStart(msg *domain.ControlMessage) {
	if err := c.recorder.Start(msg.MIMEType); err != nil {
		c.logger.Warn("Failed to start recording", zap.Error(err))
		kind := domain.KindOf(err)
		c.reply(NewErrorMessage(kind, domain.UserMessage(kind)))
		return
	}
	c.logger.Info("Recording started", zap.String("mimeType", msg.MIMEType))
}

// handleRecordingStop transcribes the recording off the read loop and
// answers with a transcription message
func (c *Client) handleRecordingStop() {
	audio, err := c.recorder.Stop()
	if err != nil {
		c.logger.Warn("Failed to stop recording", zap.Error(err))
		c.reply(NewTranscriptionMessage("", err))
		return
	}

	c.logger.Info("Recording stopped", zap.Int("bytes", len(audio.Data)))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
		defer cancel()

		text, err := c.hub.transcribe(ctx, c.accountID, audio)
		if err != nil {
			c.logger.Error("Transcription failed",
				zap.String("errorKind", string(domain.KindOf(err))),
				zap.Error(err))
		}
		c.reply(NewTranscriptionMessage(text, err))
	}()
}
