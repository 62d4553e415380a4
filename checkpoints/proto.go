package checkpoints

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// The protobuf format wraps the checkpoint in a well-known Struct message so
// it can be read by any protobuf runtime without generated code.

func marshalProto(checkpoint *Checkpoint) ([]byte, error) {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

func unmarshalProto(data []byte, checkpoint *Checkpoint) error {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return err
	}

	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, checkpoint)
}
