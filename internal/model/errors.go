package model

import "fmt"

// ErrorKind classifies feed failures.
type ErrorKind uint8

const (
	// DecodeError marks a malformed payload. These are dropped, never surfaced.
	DecodeError ErrorKind = iota
	// TransportError marks a subscription or channel failure.
	TransportError
)

func (k ErrorKind) String() string {
	switch k {
	case DecodeError:
		return "decode"
	case TransportError:
		return "transport"
	default:
		return "unknown"
	}
}

// FeedError reports a failure on a single feed.
type FeedError struct {
	Feed    FeedID
	Kind    ErrorKind
	Message string
	Epoch   uint64
}

func (e FeedError) Error() string {
	return fmt.Sprintf("%s feed %s error: %s", e.Feed, e.Kind, e.Message)
}

// NewTransportError wraps a provider error for feed.
func NewTransportError(feed FeedID, epoch uint64, err error) FeedError {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return FeedError{Feed: feed, Kind: TransportError, Message: msg, Epoch: epoch}
}
