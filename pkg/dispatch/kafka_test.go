package dispatch

import (
	"net/url"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeydtaylor/hermes/pkg/registry"
)

func kafkaTarget(t *testing.T, raw string) *registry.Target {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &registry.Target{URL: u, Raw: raw, Method: "POST"}
}

func TestKafkaSenderFromURL(t *testing.T) {
	t.Setenv("KAFKA_SASL_MECHANISM", "")
	t.Setenv("KAFKA_TLS_ENABLE", "")
	t.Setenv("KAFKA_TLS_CA_FILES", "")

	s, err := newKafkaSender(kafkaTarget(t, "kafka://b1:9092/ci.events?brokers=b2:9092,b3:9092"))
	require.NoError(t, err)
	defer s.Close()

	w := s.(*kafkaSender).w
	assert.Equal(t, "ci.events", w.Topic)
	assert.Equal(t, "b1:9092,b2:9092,b3:9092", w.Addr.String())
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	tr := w.Transport.(*kafka.Transport)
	assert.Equal(t, "hermes", tr.ClientID)
	assert.Nil(t, tr.TLS)
}

func TestKafkaSASLFromEnv(t *testing.T) {
	t.Setenv("KAFKA_SASL_MECHANISM", "scram-sha-512")
	t.Setenv("KAFKA_SASL_USERNAME", "hermes")
	t.Setenv("KAFKA_SASL_PASSWORD", "pw")
	m, err := saslFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-512", m.Name())

	t.Setenv("KAFKA_SASL_MECHANISM", "PLAIN")
	_, err = saslFromEnv()
	require.Error(t, err)

	t.Setenv("KAFKA_SASL_MECHANISM", "SCRAM-SHA-256")
	t.Setenv("KAFKA_SASL_PASSWORD", "")
	_, err = saslFromEnv()
	require.Error(t, err)
}

func TestKafkaSenderRequiresTopic(t *testing.T) {
	_, err := newKafkaSender(kafkaTarget(t, "kafka://b1:9092/"))
	require.Error(t, err)
}
