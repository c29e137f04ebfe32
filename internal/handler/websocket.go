package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/pool"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// writeWait максимальное время на запись одного сообщения
const writeWait = 10 * time.Second

// knownEventKinds известные типы событий для валидации клиентских фильтров
var knownEventKinds = map[models.EventKind]struct{}{
	models.EventVehicleUpdated:   {},
	models.EventMissionCreated:   {},
	models.EventMissionPhase:     {},
	models.EventMissionFailed:    {},
	models.EventConflictDetected: {},
}

// WebSocketHandler вещает события диспетчера подключенным клиентам.
// Один насос читает поток событий батчами и рассылает их; клиент с
// переполненной очередью отправки пропускает батч.
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	dispatcher *core.Dispatcher
	logger     *utils.Logger

	pingInterval time.Duration
	pongTimeout  time.Duration
	batchTimeout time.Duration

	// clients принадлежит горутине Run, доступ без блокировок
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Client представляет WebSocket соединение
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler *WebSocketHandler

	mu    sync.RWMutex
	kinds map[models.EventKind]struct{} // пустой фильтр = все события
}

// NewWebSocketHandler создает новый WebSocket handler
func NewWebSocketHandler(dispatcher *core.Dispatcher, cfg *config.Config, logger *utils.Logger) *WebSocketHandler {
	pingInterval := cfg.Performance.WebSocketPingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongTimeout := cfg.Performance.WebSocketPongTimeout
	if pongTimeout <= pingInterval {
		pongTimeout = 2 * pingInterval
	}
	batchTimeout := cfg.Performance.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		dispatcher:   dispatcher,
		logger:       logger.WithField("component", "websocket"),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		batchTimeout: batchTimeout,
		clients:      make(map[*Client]struct{}),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run запускает цикл вещания. Блокирует до вызова Stop.
func (h *WebSocketHandler) Run() {
	sub := h.dispatcher.Subscribe()
	defer sub.Unsubscribe()
	defer close(h.done)

	ticker := time.NewTicker(h.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			metrics.WebSocketConnections.Inc()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.WebSocketConnections.Dec()
			}

		case <-ticker.C:
			events := sub.Get()
			if len(events) == 0 {
				continue
			}
			h.broadcast(events)

		case <-h.stop:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				metrics.WebSocketConnections.Dec()
			}
			return
		}
	}
}

// Stop останавливает цикл вещания и отключает всех клиентов
func (h *WebSocketHandler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.done
}

// eventEnvelope батч событий для отправки клиенту
type eventEnvelope struct {
	Type   string         `json:"type"`
	Count  int            `json:"count"`
	Events []models.Event `json:"events"`
}

// broadcast рассылает батч событий всем клиентам с учетом фильтров
func (h *WebSocketHandler) broadcast(events []models.Event) {
	full, err := encodeEnvelope(events)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode event batch")
		return
	}

	for client := range h.clients {
		data := full
		if filtered, usesFilter := client.filter(events); usesFilter {
			if len(filtered) == 0 {
				continue
			}
			data, err = encodeEnvelope(filtered)
			if err != nil {
				continue
			}
		}

		select {
		case client.send <- data:
			metrics.WebSocketMessagesOut.WithLabelValues("events").Inc()
		default:
			// Очередь клиента переполнена, батч пропускается
			metrics.WebSocketErrors.Inc()
			h.logger.WithField("client", client.conn.RemoteAddr().String()).
				Warn("Client send buffer full, dropping batch")
		}
	}
}

// encodeEnvelope сериализует батч через пул буферов и возвращает
// стабильную копию, разделяемую всеми получателями
func encodeEnvelope(events []models.Event) ([]byte, error) {
	buf := pool.Global.GetBuffer()
	defer pool.Global.PutBuffer(buf)

	envelope := eventEnvelope{Type: "events", Count: len(events), Events: events}
	if err := json.NewEncoder(buf).Encode(&envelope); err != nil {
		return nil, err
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}

// HandleWebSocket обрабатывает WebSocket подключения
// GET /ws/v1/events?kinds=mission_phase_changed,conflict_detected
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	kinds, err := parseKindsFilter(c.Query("kinds"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_kinds",
			"message": err.Error(),
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		handler: h,
		kinds:   kinds,
	}

	h.logger.WithFields(map[string]interface{}{
		"client_ip": c.ClientIP(),
		"kinds":     len(kinds),
	}).Info("WebSocket client connected")

	// Приветствие ставится в очередь до регистрации, чтобы клиент
	// получил снимок флота раньше первого батча событий
	client.queueWelcome()

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// welcomeMessage начальный снимок состояния для нового клиента
type welcomeMessage struct {
	Type       string            `json:"type"`
	ServerTime int64             `json:"server_time"`
	Version    string            `json:"version"`
	Vehicles   []*models.Vehicle `json:"vehicles"`
	Missions   []*models.Mission `json:"missions"`
}

// queueWelcome ставит приветственное сообщение в очередь отправки
func (c *Client) queueWelcome() {
	welcome := welcomeMessage{
		Type:       "welcome",
		ServerTime: time.Now().Unix(),
		Version:    "1.0.0",
		Vehicles:   c.handler.dispatcher.ListVehicles(),
		Missions:   c.handler.dispatcher.ListMissions(),
	}

	data, err := json.Marshal(&welcome)
	if err != nil {
		c.handler.logger.WithError(err).Error("Failed to marshal welcome message")
		return
	}

	select {
	case c.send <- data:
		metrics.WebSocketMessagesOut.WithLabelValues("welcome").Inc()
	default:
		c.handler.logger.Warn("Welcome message dropped, send buffer full")
	}
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer c.dispose()

	c.conn.SetReadDeadline(time.Now().Add(c.handler.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.handler.pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.logger.WithError(err).Error("WebSocket read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump отправляет сообщения клиенту и пингует по таймеру
func (c *Client) writePump() {
	ticker := time.NewTicker(c.handler.pingInterval)
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

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.handler.logger.WithError(err).Error("WebSocket write error")
				metrics.WebSocketErrors.Inc()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("ping").Inc()
		}
	}
}

// dispose снимает клиента с регистрации и закрывает соединение
func (c *Client) dispose() {
	select {
	case c.handler.unregister <- c:
	case <-c.handler.done:
	}
	c.conn.Close()
	c.handler.logger.Debug("WebSocket client disconnected")
}

// handleMessage обрабатывает входящие сообщения от клиента
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type  string   `json:"type"`
		Kinds []string `json:"kinds"`
	}

	if err := json.Unmarshal(message, &msg); err != nil {
		c.handler.logger.WithError(err).Debug("Malformed WebSocket message")
		return
	}

	switch msg.Type {
	case "subscribe":
		c.updateFilter(msg.Kinds)
	case "pong":
		// Текстовый pong от клиентов без поддержки управляющих фреймов
		c.handler.logger.Debug("Received pong from client")
	}
}

// updateFilter обновляет фильтр типов событий клиента
func (c *Client) updateFilter(names []string) {
	kinds := make(map[models.EventKind]struct{}, len(names))
	for _, name := range names {
		kind := models.EventKind(name)
		if _, ok := knownEventKinds[kind]; !ok {
			c.handler.logger.WithField("kind", name).Warn("Unknown event kind in subscribe")
			continue
		}
		kinds[kind] = struct{}{}
	}

	c.mu.Lock()
	c.kinds = kinds
	c.mu.Unlock()

	c.handler.logger.WithField("kinds", len(kinds)).Debug("Client subscription updated")
}

// filter возвращает события, проходящие фильтр клиента. Второе значение
// false означает, что фильтр пуст и батч используется целиком.
func (c *Client) filter(events []models.Event) ([]models.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.kinds) == 0 {
		return nil, false
	}

	filtered := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if _, ok := c.kinds[ev.Kind]; ok {
			filtered = append(filtered, ev)
		}
	}
	return filtered, true
}

// parseKindsFilter разбирает список типов событий из query параметра
func parseKindsFilter(raw string) (map[models.EventKind]struct{}, error) {
	if raw == "" {
		return nil, nil
	}

	kinds := make(map[models.EventKind]struct{})
	for _, name := range strings.Split(raw, ",") {
		kind := models.EventKind(strings.TrimSpace(name))
		if _, ok := knownEventKinds[kind]; !ok {
			return nil, &unknownKindError{kind: string(kind)}
		}
		kinds[kind] = struct{}{}
	}
	return kinds, nil
}

// unknownKindError ошибка валидации фильтра событий
type unknownKindError struct {
	kind string
}

func (e *unknownKindError) Error() string {
	return "unknown event kind: " + e.kind
}
