package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
)

type offsetReader interface {
	GetOffset(topic string, partition int32, at int64) (int64, error)
}

type replaySink interface {
	PublishRaw(ctx context.Context, topic, key string, value []byte, headers []sarama.RecordHeader) error
}

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *summary) add(other summary) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ-топик от начала (или хвост при FromNewest) до offset,
// который был последним на момент старта, и не больше Limit записей суммарно.
type replayer struct {
	opts     Options
	offsets  offsetReader
	consumer sarama.Consumer
	sink     replaySink
	logger   *log.Entry
}

func (r *replayer) Run(ctx context.Context) (summary, error) {
	var total summary
	if r.opts.Execute && r.sink == nil {
		return total, errors.New("execute mode needs a producer")
	}

	partitions, err := r.consumer.Partitions(r.opts.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.opts.Limit - total.scanned
		if budget <= 0 {
			break
		}
		part, err := r.scanPartition(ctx, partition, budget)
		total.add(part)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// window возвращает диапазон offset'ов [start, end) для чтения партиции.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.opts.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err := r.offsets.GetOffset(r.opts.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	start := oldest
	if r.opts.FromNewest {
		start = max(oldest, end-int64(budget))
	}
	return start, end, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) (summary, error) {
	var part summary

	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return part, err
	}

	pc, err := r.consumer.ConsumePartition(r.opts.SourceTopic, partition, start)
	if err != nil {
		return part, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() {
		if err := pc.Close(); err != nil {
			r.logger.WithError(err).WithField("partition", partition).Debug("partition consumer closed with errors")
		}
	}()

	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	for part.scanned < budget {
		select {
		case <-ctx.Done():
			return part, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Warn("partition went idle before its end offset")
			return part, nil
		case consumeErr, ok := <-pc.Errors():
			if !ok {
				return part, nil
			}
			return part, fmt.Errorf("partition %d: %w", partition, consumeErr)
		case msg, ok := <-pc.Messages():
			if !ok || msg.Offset >= end {
				return part, nil
			}
			idle.Reset(r.opts.IdleTimeout)

			part.scanned++
			replayed, err := r.handle(ctx, msg)
			if err != nil {
				return part, err
			}
			if replayed {
				part.replayed++
			} else {
				part.skipped++
			}
			if msg.Offset+1 >= end {
				return part, nil
			}
		}
	}
	return part, nil
}

// handle возвращает true, если запись опубликована (или была бы в dry-run).
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	rec, err := decodeRecord(msg.Value)
	if errors.Is(err, errNotReplayable) {
		return false, nil
	}
	if err != nil {
		logger.WithError(err).Warn("skip unsupported dlq record")
		return false, nil
	}
	if r.opts.OrderID != "" && rec.orderID != r.opts.OrderID {
		return false, nil
	}
	if r.opts.TargetTopic != "" {
		rec.topic = r.opts.TargetTopic
	}
	if rec.topic == "" {
		logger.Warn("skip dlq record without original topic")
		return false, nil
	}

	logger = logger.WithFields(log.Fields{"target_topic": rec.topic, "key": rec.key, "order_id": rec.orderID})
	if !r.opts.Execute {
		logger.Info("dlq replay candidate")
		return true, nil
	}

	headers := []sarama.RecordHeader{{Key: []byte(kafka.HeaderReplayedFrom), Value: []byte(r.opts.SourceTopic)}}
	if err := r.sink.PublishRaw(ctx, rec.topic, rec.key, rec.value, headers); err != nil {
		return false, fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
	}
	logger.Debug("dlq record replayed")
	return true, nil
}
