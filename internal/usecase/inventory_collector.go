package usecase

import (
	"context"

	"Flowcast/internal/domain/models"
	drepo "Flowcast/internal/domain/repository"
	applogger "Flowcast/pkg/logger"
)

// InventoryCollector consumes stock/expiry updates from the warehouse stream
// and folds them into the product catalog. Locked prices are deliberately not
// touched on stock changes; only the next forecast run sees them.
type InventoryCollector struct {
	stream   drepo.InventoryStream
	products drepo.ProductStore
	history  drepo.HistoryStore
	metrics  drepo.Metrics
	l        *applogger.Logger
}

func NewInventoryCollector(stream drepo.InventoryStream, products drepo.ProductStore, history drepo.HistoryStore, metrics drepo.Metrics) *InventoryCollector {
	return &InventoryCollector{stream: stream, products: products, history: history, metrics: metrics}
}

// SetLogger injects a structured logger.
func (c *InventoryCollector) SetLogger(l *applogger.Logger) { c.l = l }

// IsConnected returns true if the inventory stream is connected.
func (c *InventoryCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *InventoryCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	upCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, upCh, errCh)
	return nil
}

func (c *InventoryCollector) consume(ctx context.Context, upCh <-chan *models.StockUpdate, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				if c.metrics != nil {
					c.metrics.RecordError("inventory_stream")
				}
				if c.l != nil {
					c.l.Warn("inventory stream error, reconnecting", applogger.Error(err))
				}
				_ = c.stream.Reconnect(ctx)
			}
		case u := <-upCh:
			if u == nil {
				continue
			}
			if err := c.products.ApplyStockUpdate(ctx, u); err != nil {
				if c.metrics != nil {
					c.metrics.RecordError("stock_update")
				}
				if c.l != nil {
					c.l.Warn("stock update rejected",
						applogger.String("product", u.ProductID),
						applogger.Error(err),
					)
				}
			}
		}
	}
}

// Shutdown closes the stream.
func (c *InventoryCollector) Shutdown(context.Context) error {
	return c.stream.Close()
}
