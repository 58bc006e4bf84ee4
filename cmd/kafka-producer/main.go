package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/guess-leaderboard/internal/domain"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "player-created", "Kafka topic")
	totalPlayers := flag.Int("players", 1000, "Number of player accounts to announce")
	startID := flag.Int64("start-id", 1, "First player id")
	perSecond := flag.Int("rate", 100, "Events per second (0 = as fast as possible)")
	duplicates := flag.Bool("duplicates", false, "Announce every player twice to exercise idempotent initialization")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Player-created event producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Players:          %d (from id %d)\n", *totalPlayers, *startID)
	fmt.Printf("  Events/sec:       %d\n", *perSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	finish := func() {
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	var tick <-chan time.Time
	if *perSecond > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(*perSecond))
		defer ticker.Stop()
		tick = ticker.C
	}

	rounds := 1
	if *duplicates {
		rounds = 2
	}

	for round := 0; round < rounds; round++ {
		for i := 0; i < *totalPlayers; i++ {
			if tick != nil {
				select {
				case <-tick:
				case <-sigChan:
					fmt.Println("\n\nShutting down...")
					finish()
					return
				}
			}

			event := domain.PlayerCreatedEvent{
				PlayerID: *startID + int64(i),
				Username: getPlayerName(i),
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("Failed to marshal event: %v", err)
				continue
			}

			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(strconv.FormatInt(event.PlayerID, 10)),
				Value: sarama.ByteEncoder(data),
			}

			if (i+1)%100 == 0 || i+1 == *totalPlayers {
				progress := float64(i+1) / float64(*totalPlayers) * 100
				fmt.Printf("\r  Round %d: %d/%d players (%.1f%%)", round+1, i+1, *totalPlayers, progress)
			}
		}
		fmt.Println()
	}

	finish()
}
