//go:build integration

package sink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"chainlog/internal/audit/models"
	"chainlog/pkg/testutil/containers"
)

func TestKafkaWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rp := containers.NewRedpandaContainer(t)
	ctx := context.Background()

	const topic = "chainlog.audit"

	writer, err := NewKafkaWriter(ctx, []string{rp.Broker}, topic)
	require.NoError(t, err)
	defer func() { require.NoError(t, writer.Close()) }()

	// creating the writer twice must tolerate the existing topic
	second, err := NewKafkaWriter(ctx, []string{rp.Broker}, topic)
	require.NoError(t, err)
	require.NoError(t, second.Close())

	records := []*models.Record{
		{Sequence: 1, Resource: "doc/1", Action: "create", Hash: "aa", PrevHash: "00"},
		{Sequence: 2, Resource: "doc/2", Action: "update", Hash: "bb", PrevHash: "aa"},
		{Sequence: 3, Resource: "doc/3", Action: "delete", Hash: "cc", PrevHash: "bb"},
	}
	for _, r := range records {
		require.NoError(t, writer.Send(ctx, r))
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var consumed []*kgo.Record
	deadline := time.Now().Add(15 * time.Second)
	for len(consumed) < len(records) && time.Now().Before(deadline) {
		fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		fetches := consumer.PollFetches(fetchCtx)
		cancel()
		consumed = append(consumed, fetches.Records()...)
	}
	require.Len(t, consumed, len(records))

	for i, msg := range consumed {
		assert.Equal(t, records[i].Sequence, binary.BigEndian.Uint64(msg.Key),
			"messages are keyed by sequence in chain order")

		var got models.Record
		require.NoError(t, json.Unmarshal(msg.Value, &got))
		assert.Equal(t, records[i].Sequence, got.Sequence)
		assert.Equal(t, records[i].Hash, got.Hash)
		assert.Equal(t, records[i].PrevHash, got.PrevHash)
	}
}
