package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGossipMessageCodecRoundTrip(t *testing.T) {
	msg := GossipMessage{
		Sender: "nodeA",
		SenderClock: map[NodeID]uint64{"nodeA": 12, "nodeB": 4},
		Operations: []GossipOperation{
			{
				CRDTID: "jobs/completed",
				CRDTType: "gcounter",
				OperationBytes: []byte(`{"node":"nodeA","count":12}`),
				Metadata: map[string]string{"origin": "mesh"},
			},
			{
				CRDTID: "config/k",
				CRDTType: "lww_register",
				OperationBytes: []byte(`{"value":"v2"}`),
			},
		},
		Sequence: 7,
		Timestamp: 1700000000,
	}

	raw, err := encodeGossipMessage(msg)
	require.NoError(t, err)

	got, err := decodeGossipMessage(raw)
	require.NoError(t, err)
	require.Equal(t, msg.Sender, got.Sender)
	require.Equal(t, msg.Sequence, got.Sequence)
	require.Equal(t, msg.Timestamp, got.Timestamp)
	require.Equal(t, msg.SenderClock, got.SenderClock)
	require.Len(t, got.Operations, 2)
	require.Equal(t, msg.Operations[0].CRDTID, got.Operations[0].CRDTID)
	require.Equal(t, msg.Operations[0].OperationBytes, got.Operations[0].OperationBytes)
	require.Equal(t, msg.Operations[0].Metadata, got.Operations[0].Metadata)
	require.Equal(t, msg.Operations[1].CRDTType, got.Operations[1].CRDTType)
	require.Nil(t, got.Operations[1].Metadata)
}

func TestGossipMessageEncodingIsDeterministic(t *testing.T) {
	msg := GossipMessage{
		Sender: "n",
		SenderClock: map[NodeID]uint64{"a": 1, "b": 2, "c": 3},
		Operations: []GossipOperation{{
			CRDTID: "x",
			CRDTType: "orset",
			OperationBytes: []byte("op"),
			Metadata: map[string]string{"k1": "v1", "k2": "v2"},
		}},
	}
	first, err := encodeGossipMessage(msg)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := encodeGossipMessage(msg)
		require.NoError(t, err)
		require.Equal(t, first, again, "map iteration order must not leak into the encoding")
	}
}

func TestDecodeGossipMessageRejectsTruncated(t *testing.T) {
	msg := GossipMessage{
		Sender: "nodeA",
		SenderClock: map[NodeID]uint64{"nodeA": 1},
		Operations: []GossipOperation{{CRDTID: "c", CRDTType: "gcounter", OperationBytes: []byte("op")}},
	}
	raw, err := encodeGossipMessage(msg)
	require.NoError(t, err)

	_, err = decodeGossipMessage(raw[:len(raw)-2])
	require.ErrorIs(t, err, ErrDeserialization)
}
