package dispatch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/joeydtaylor/hermes/pkg/registry"
)

// kafkaSender produces each delivery as one record. Target form:
//
//	kafka://broker1:9092/topic?brokers=broker2:9092,broker3:9092
//
// Connection security comes from the environment:
//
//	KAFKA_CLIENT_ID        = client id (default hermes)
//	KAFKA_TLS_ENABLE       = "true" | "false"
//	KAFKA_TLS_CA_FILES     = comma separated PEM files
//	KAFKA_TLS_SERVER_NAME  = SNI override
//	KAFKA_TLS_CLIENT_CERT / KAFKA_TLS_CLIENT_KEY
//	KAFKA_SASL_MECHANISM   = SCRAM-SHA-256 | SCRAM-SHA-512
//	KAFKA_SASL_USERNAME / KAFKA_SASL_PASSWORD
type kafkaSender struct {
	w *kafka.Writer
}

func newKafkaSender(t *registry.Target) (Sender, error) {
	brokers := []string{t.URL.Host}
	brokers = append(brokers, splitCSV(t.URL.Query().Get("brokers"))...)
	topic := strings.Trim(t.URL.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("kafka target %q: missing topic", t.Raw)
	}

	tr, err := kafkaTransportFromEnv()
	if err != nil {
		return nil, fmt.Errorf("kafka target %q: %w", t.Raw, err)
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		// One record per delivery; retries belong to the dispatcher.
		MaxAttempts:  1,
		BatchSize:    1,
		BatchTimeout: 5 * time.Millisecond,
		Transport:    tr,
	}
	return &kafkaSender{w: w}, nil
}

func (s *kafkaSender) Send(ctx context.Context, m Message) (int, error) {
	msg := kafka.Message{Key: []byte(m.DeliveryID), Value: m.Body}
	for k, vs := range m.Headers {
		for _, v := range vs {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *kafkaSender) Close() error { return s.w.Close() }

func kafkaTransportFromEnv() (*kafka.Transport, error) {
	tr := &kafka.Transport{ClientID: envOr("KAFKA_CLIENT_ID", "hermes")}

	caFiles := splitCSV(os.Getenv("KAFKA_TLS_CA_FILES"))
	if strings.EqualFold(os.Getenv("KAFKA_TLS_ENABLE"), "true") || len(caFiles) > 0 {
		cfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: strings.TrimSpace(os.Getenv("KAFKA_TLS_SERVER_NAME")),
		}
		if len(caFiles) > 0 {
			pool := x509.NewCertPool()
			for _, f := range caFiles {
				pem, err := os.ReadFile(f)
				if err != nil {
					return nil, fmt.Errorf("read ca %s: %w", f, err)
				}
				if !pool.AppendCertsFromPEM(pem) {
					return nil, fmt.Errorf("ca %s: no certificates", f)
				}
			}
			cfg.RootCAs = pool
		}
		crt, key := os.Getenv("KAFKA_TLS_CLIENT_CERT"), os.Getenv("KAFKA_TLS_CLIENT_KEY")
		if crt != "" && key != "" {
			pair, err := tls.LoadX509KeyPair(crt, key)
			if err != nil {
				return nil, fmt.Errorf("client cert: %w", err)
			}
			cfg.Certificates = []tls.Certificate{pair}
		}
		tr.TLS = cfg
	}

	mech, err := saslFromEnv()
	if err != nil {
		return nil, err
	}
	tr.SASL = mech
	return tr, nil
}

func saslFromEnv() (sasl.Mechanism, error) {
	name := strings.ToUpper(strings.TrimSpace(os.Getenv("KAFKA_SASL_MECHANISM")))
	if name == "" {
		return nil, nil
	}
	user, pass := os.Getenv("KAFKA_SASL_USERNAME"), os.Getenv("KAFKA_SASL_PASSWORD")
	if user == "" || pass == "" {
		return nil, errors.New("KAFKA_SASL_USERNAME and KAFKA_SASL_PASSWORD are required")
	}
	switch name {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, user, pass)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, user, pass)
	default:
		return nil, fmt.Errorf("KAFKA_SASL_MECHANISM %q unsupported", name)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
