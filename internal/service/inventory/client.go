package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"Flowcast/internal/domain/models"
	drepo "Flowcast/internal/domain/repository"
	xutil "Flowcast/pkg/util"
)

// Client implements an InventoryStream backed by the warehouse system's
// WebSocket feed.
type Client struct {
	apiKey         string
	websocketURL   string
	productIDs     []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new warehouse InventoryStream.
func New(apiKey, websocketURL string, productIDs []string, reconnectDelay, pingInterval time.Duration) drepo.InventoryStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		productIDs:     productIDs,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("inventory connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("inventory: connected")
	return nil
}

// Subscribe subscribes to configured products.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("inventory not connected")
	}
	for _, id := range c.productIDs {
		msg := map[string]string{"type": "subscribe", "product": id}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
		log.Printf("inventory: subscribed %s", id)
	}
	return nil
}

type wsUpdate struct {
	P string `json:"p"`
	S int    `json:"s"`
	E string `json:"e"` // expiry, date-only or RFC3339
	T int64  `json:"t"` // ms
}

type wsMessage struct {
	Type string     `json:"type"`
	Data []wsUpdate `json:"data"`
}

// Read streams StockUpdate events and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.StockUpdate, <-chan error) {
	updates := make(chan *models.StockUpdate, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(updates)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("inventory conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("inventory read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-update frames
					continue
				}
				if m.Type != "stock" {
					continue
				}
				for _, d := range m.Data {
					u := &models.StockUpdate{ProductID: d.P, Stock: d.S, Timestamp: d.T / 1000}
					if d.E != "" {
						if exp, ok := xutil.ParseTime(d.E); ok {
							u.ExpiryDate = exp
						}
					}
					select {
					case updates <- u:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return updates, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
