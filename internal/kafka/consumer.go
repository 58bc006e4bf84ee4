package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/guess-leaderboard/internal/config"
	"github.com/guess-leaderboard/internal/domain"
)

const handleTimeout = 10 * time.Second

// errInvalidEvent marks messages that can never be processed
var errInvalidEvent = errors.New("invalid player-created event")

// PlayerInitializer is the account-creation hook of the game
type PlayerInitializer interface {
	InitializePlayer(ctx context.Context, player domain.Player) error
}

// Consumer consumes player-created notifications from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       PlayerInitializer
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler PlayerInitializer, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// handleMessage decodes one event and runs the initialization hook. The hook
// is idempotent, so redelivered events are harmless.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	event, err := DecodePlayerCreated(value)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	player := domain.Player{ID: event.PlayerID, Username: event.Username}
	if err := c.handler.InitializePlayer(ctx, player); err != nil {
		return fmt.Errorf("initializing player %d: %w", event.PlayerID, err)
	}
	return nil
}

// DecodePlayerCreated parses and validates a player-created event
func DecodePlayerCreated(value []byte) (domain.PlayerCreatedEvent, error) {
	var event domain.PlayerCreatedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if event.PlayerID <= 0 || event.Username == "" {
		return event, fmt.Errorf("%w: player_id=%d username=%q", errInvalidEvent, event.PlayerID, event.Username)
	}
	return event, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Every message is
// marked whether or not it succeeded; failed initializations are logged and
// left to the next leaderboard reset.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	logger := h.consumer.logger
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if err := h.consumer.handleMessage(session.Context(), message.Value); err != nil {
				level := slog.LevelError
				if errors.Is(err, errInvalidEvent) {
					level = slog.LevelWarn
				}
				logger.Log(session.Context(), level, "failed to handle player-created event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
			}
			session.MarkMessage(message, "")
		}
	}
}
