package queue

import (
	"fmt"

	"github.com/emrgen/newsimport/internal/compress"
	"github.com/emrgen/newsimport/internal/config"
	redis "github.com/redis/go-redis/v9"
)

// Gateway is the broker as the importer sees it: resilient, encoded
// publishes and decoded consumption.
type Gateway struct {
	Publisher
	Consumer
	broker Broker
}

func (g *Gateway) Close() error {
	return g.broker.Close()
}

// Open connects to the broker selected by the config.
func Open(cnf *config.Config) (*Gateway, error) {
	codec, err := compress.ByName(cnf.Broker.Codec)
	if err != nil {
		return nil, err
	}

	var broker Broker
	switch cnf.Broker.Kind {
	case config.BrokerKafka:
		broker, err = NewKafkaBroker(cnf.Broker.Kafka.Brokers, cnf.Broker.Kafka.GroupID)
		if err != nil {
			return nil, err
		}
	case config.BrokerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cnf.Broker.Redis.Addr,
			Password: cnf.Broker.Redis.Password,
			DB:       cnf.Broker.Redis.DB,
		})
		broker = NewRedisBroker(client, cnf.Broker.Redis.Group, cnf.Broker.Redis.Consumer, cnf.Broker.Redis.ClaimIdle)
	case config.BrokerMemory:
		broker = NewMemoryBroker()
	default:
		return nil, fmt.Errorf("unsupported broker kind %q", cnf.Broker.Kind)
	}

	return NewGateway(broker, codec, ResilienceSettings{
		Attempts:     cnf.Broker.Publish.Attempts,
		Delay:        cnf.Broker.Publish.Delay,
		BreakerTrips: cnf.Broker.Publish.BreakerTrips,
		BreakerOpen:  cnf.Broker.Publish.BreakerOpen,
	}), nil
}

func NewGateway(broker Broker, codec compress.Compress, settings ResilienceSettings) *Gateway {
	return &Gateway{
		Publisher: NewEncodingPublisher(NewResilientPublisher(broker, settings), codec),
		Consumer:  NewDecodingConsumer(broker),
		broker:    broker,
	}
}
