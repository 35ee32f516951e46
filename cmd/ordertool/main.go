// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command ordertool is a development helper for the order service. It
// creates the Kafka topics the service consumes and produces sample
// order messages against them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mouts-info/orderservice/config"
	"github.com/mouts-info/orderservice/ingest"
	"github.com/mouts-info/orderservice/order"
	"github.com/mouts-info/orderservice/queue/kafka"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

func main() {
	err := run(context.Background(), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: ordertool <topics|send> [flags]")
	}

	brokers, err := config.Read(ctx, kafka.BrokersFromEnv())
	if err != nil {
		return fmt.Errorf("KAFKA_BROKERS is required: %w", err)
	}

	switch args[0] {
	case "topics":
		return createTopics(ctx, brokers)
	case "send":
		return sendOrder(ctx, brokers, args[1:])
	default:
		return fmt.Errorf("unknown command %q, expected topics or send", args[0])
	}
}

func createTopics(ctx context.Context, brokers []string) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return err
	}
	defer client.Close()

	topics := []string{
		config.MustOr(ctx, "orders.received", config.Env("ORDERS_RECEIVED_TOPIC")),
		config.MustOr(ctx, "orders.dlt", config.Env("ORDERS_DLT_TOPIC")),
		config.MustOr(ctx, "orders.processed", config.Env("ORDERS_PROCESSED_TOPIC")),
	}

	resps, err := kadm.NewClient(client).CreateTopics(ctx, 3, 1, nil, topics...)
	if err != nil {
		return err
	}
	for _, resp := range resps.Sorted() {
		if resp.Err != nil && !strings.Contains(resp.Err.Error(), "TOPIC_ALREADY_EXISTS") {
			return fmt.Errorf("failed to create topic %s: %w", resp.Topic, resp.Err)
		}
		fmt.Println("topic ready:", resp.Topic)
	}
	return nil
}

func sendOrder(ctx context.Context, brokers []string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	key := fs.String("key", "", "idempotency key (defaults to a fresh uuid)")
	items := fs.String("items", "sku-1:2:10.50", "comma-separated items as productId:quantity:price")
	err := fs.Parse(args)
	if err != nil {
		return err
	}

	if *key == "" {
		*key = uuid.NewString()
	}

	req, err := parseItems(*items)
	if err != nil {
		return err
	}

	value, err := json.Marshal(req)
	if err != nil {
		return err
	}

	publisher, err := kafka.NewPublisher(brokers)
	if err != nil {
		return err
	}
	defer publisher.Close(ctx)

	topic := config.MustOr(ctx, "orders.received", config.Env("ORDERS_RECEIVED_TOPIC"))
	err = publisher.ProduceSync(ctx, kafka.Record{
		Topic: topic,
		Key:   []byte(*key),
		Value: value,
		Headers: []kafka.Header{
			{Key: ingest.HeaderIdempotencyKey, Value: []byte(*key)},
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("sent order %s to %s at %s\n", *key, topic, time.Now().Format(time.RFC3339))
	return nil
}

func parseItems(s string) (order.Request, error) {
	var req order.Request
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return order.Request{}, fmt.Errorf("malformed item %q, expected productId:quantity:price", part)
		}

		var item order.ItemRequest
		item.ProductID = fields[0]

		_, err := fmt.Sscanf(fields[1], "%d", &item.Quantity)
		if err != nil {
			return order.Request{}, fmt.Errorf("malformed quantity in %q: %w", part, err)
		}

		item.Price, err = decimal.NewFromString(fields[2])
		if err != nil {
			return order.Request{}, fmt.Errorf("malformed price in %q: %w", part, err)
		}

		req.Items = append(req.Items, item)
	}
	return req, nil
}
