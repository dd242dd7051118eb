// Command dlq-reprocess возвращает события саги из Dead Letter Queue в исходные топики.
// По умолчанию работает в dry-run: только печатает кандидатов на повтор.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

// Options - параметры запуска.
type Options struct {
	Brokers     []string
	SourceTopic string
	TargetTopic string
	OrderID     string
	Limit       int
	Execute     bool
	FromNewest  bool
	IdleTimeout time.Duration
}

// Validate проверяет согласованность параметров.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Brokers, validation.Required.Error("use -brokers or KAFKA_BROKERS")),
		validation.Field(&o.SourceTopic, validation.Required),
		validation.Field(&o.TargetTopic, validation.NotIn(o.SourceTopic).Error("must differ from source topic")),
		validation.Field(&o.Limit, validation.Required, validation.Min(1)),
		validation.Field(&o.IdleTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (o Options) mode() string {
	if o.Execute {
		return "execute"
	}
	return "dry-run"
}

func parseOptions(args []string, getenv func(string) string) (Options, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)

	var (
		brokers string
		opts    Options
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $KAFKA_BROKERS)")
	fs.StringVar(&opts.SourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.TargetTopic, "target-topic", "", "publish every record here instead of its original topic")
	fs.StringVar(&opts.OrderID, "order-id", "", "replay records of one order only")
	fs.IntVar(&opts.Limit, "limit", defaultLimit, "max records to scan")
	fs.BoolVar(&opts.Execute, "execute", false, "publish records; without it only candidates are printed")
	fs.BoolVar(&opts.FromNewest, "from-newest", false, "scan the last -limit records of each partition")
	fs.DurationVar(&opts.IdleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("KAFKA_BROKERS")
	}
	opts.Brokers = splitBrokers(brokers)
	opts.SourceTopic = strings.TrimSpace(opts.SourceTopic)
	opts.TargetTopic = strings.TrimSpace(opts.TargetTopic)
	opts.OrderID = strings.TrimSpace(opts.OrderID)

	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("dlq-reprocess: bad arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, opts)
	stop()
	if err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}
}

func run(ctx context.Context, opts Options) error {
	logger := log.WithField("component", "dlq-reprocess")

	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	client, err := sarama.NewClient(opts.Brokers, cfg)
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	r := &replayer{opts: opts, offsets: client, consumer: consumer, logger: logger}
	if opts.Execute {
		producer, err := kafka.NewProducer(opts.Brokers, kafka.WithProducerLogger(logger))
		if err != nil {
			return err
		}
		defer producer.Close()
		r.sink = producer
	}

	logger.WithFields(log.Fields{
		"source_topic": opts.SourceTopic,
		"target_topic": opts.TargetTopic,
		"order_id":     opts.OrderID,
		"limit":        opts.Limit,
		"mode":         opts.mode(),
	}).Info("dlq replay started")

	total, err := r.Run(ctx)
	logger.WithFields(log.Fields{
		"mode":     opts.mode(),
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return err
}
