package txn

import "gopkg.in/yaml.v3"

// EncodeUncommittedValue serializes an UncommittedValue into the
// self-describing format stored under an intent key (spec.md §6 leaves
// the format up to the implementer; this repo uses YAML throughout its
// ambient stack, so the intent payload follows suit).
func EncodeUncommittedValue(v UncommittedValue) ([]byte, error) {
	return yaml.Marshal(v)
}

// DecodeUncommittedValue parses bytes previously produced by
// EncodeUncommittedValue.
func DecodeUncommittedValue(data []byte) (UncommittedValue, error) {
	var v UncommittedValue
	if err := yaml.Unmarshal(data, &v); err != nil {
		return UncommittedValue{}, err
	}
	return v, nil
}

// recordOnDisk mirrors Record with exported, yaml-friendly field names;
// Status is persisted as its string form for readability on disk.
type recordOnDisk struct {
	Status   string      `yaml:"status"`
	Metadata TxnMetadata `yaml:"metadata"`
}

// EncodeRecord serializes a transaction record for storage under its
// TXN_PREFIX key.
func EncodeRecord(r Record) ([]byte, error) {
	return yaml.Marshal(recordOnDisk{Status: r.Status.String(), Metadata: r.Metadata})
}

// DecodeRecord parses bytes previously produced by EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var on recordOnDisk
	if err := yaml.Unmarshal(data, &on); err != nil {
		return Record{}, err
	}
	status := Pending
	switch on.Status {
	case Committed.String():
		status = Committed
	case Aborted.String():
		status = Aborted
	}
	return Record{Status: status, Metadata: on.Metadata}, nil
}
