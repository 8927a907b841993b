package showcase

import (
	"testing"
	"time"

	"gridlock/detector"
	"gridlock/gridlog"
)

func sampleRecords() []gridlog.Record {
	return []gridlog.Record{
		{
			Thread:    1,
			Event:     "ThreadSpawn",
			Timestamp: time.Unix(0, 0).UTC(),
			Snapshot:  &gridlog.Snapshot{Threads: []uint64{1}},
		},
		{
			Event:     "Deadlock",
			Timestamp: time.Unix(1, 0).UTC(),
			Deadlock: &detector.DeadlockInfo{
				ThreadCycle: []detector.ThreadId{1, 2},
				Timestamp:   time.Unix(1, 0).UTC(),
			},
		},
	}
}

func TestPackUnpack_RoundTrips(t *testing.T) {
	records := sampleRecords()

	data, err := Pack(records)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	got, err := Unpack(data)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	if got[1].Deadlock == nil || len(got[1].Deadlock.ThreadCycle) != 2 {
		t.Errorf("expected the deadlock payload to survive the round trip, got %+v", got[1].Deadlock)
	}
}

func TestEncodeDecode_Zstd(t *testing.T) {
	data, err := Pack(sampleRecords())
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	encoded, err := Encode(data, CodecZstd)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if encoded == "" {
		t.Fatal("expected a non-empty encoded string")
	}

	decoded, err := Decode(encoded, CodecZstd)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(decoded) != string(data) {
		t.Error("expected decoded bytes to match the original payload")
	}
}

func TestEncodeDecode_LZ4(t *testing.T) {
	data, err := Pack(sampleRecords())
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	encoded, err := Encode(data, CodecLZ4)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(encoded, CodecLZ4)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(decoded) != string(data) {
		t.Error("expected decoded bytes to match the original payload")
	}
}

func TestEncode_ProducesURLSafeOutput(t *testing.T) {
	data, err := Pack(sampleRecords())
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	encoded, err := Encode(data, CodecZstd)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for _, r := range encoded {
		if r == '+' || r == '/' {
			t.Fatalf("expected URL-safe base64 output, found %q in %s", r, encoded)
		}
	}
}

func TestDecode_UnknownCodec(t *testing.T) {
	// A valid base64 payload, so the error can only come from the codec.
	if _, err := Decode("aWdub3JlZA==", Codec("rot13")); err == nil {
		t.Fatal("expected an error for an unknown codec")
	}
}
