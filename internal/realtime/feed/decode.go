package feed

import (
	"fmt"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// DecodeError reports a payload that is not a well-formed FeedMessage
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse protobuf (%d bytes): %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a GTFS-RT payload. Required fields are enforced, so an empty or
// truncated payload is an error rather than an empty message.
func Decode(payload []byte) (*gtfs.FeedMessage, error) {
	msg := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil, &DecodeError{Size: len(payload), Err: err}
	}
	return msg, nil
}
