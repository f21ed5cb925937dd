package common

import (
	"errors"
)

var ErrSinkSealed = errors.New("the sink is sealed")

// SinkWithSender tags every message with a fixed sender before it is put into a shared channel.
// Senders can't impersonate each other since the sender is set once when the sink is created.
type SinkWithSender[SenderType comparable, MessageType any] struct {
	sender      SenderType
	messageSink chan<- Message[SenderType, MessageType]
	// Closed once the sink is sealed. The shared channel itself is never closed
	// here since other senders may still be using it.
	sealed chan struct{}
}

func NewSink[S comparable, M any](sender S, messageSink chan<- Message[S, M]) *SinkWithSender[S, M] {
	return &SinkWithSender[S, M]{
		sender:      sender,
		messageSink: messageSink,
		sealed:      make(chan struct{}),
	}
}

// Sends a message to the sink. Blocks if the sink is full unless it gets sealed meanwhile.
func (s *SinkWithSender[S, M]) Send(message M) error {
	select {
	case <-s.sealed:
		return ErrSinkSealed
	default:
	}

	select {
	case <-s.sealed:
		return ErrSinkSealed
	case s.messageSink <- Message[S, M]{Sender: s.sender, Content: message}:
		return nil
	}
}

// Seal the sink. Any later `Send` returns `ErrSinkSealed`, other senders are not affected.
func (s *SinkWithSender[S, M]) Seal() {
	select {
	case <-s.sealed:
		return
	default:
		close(s.sealed)
	}
}

func (s *SinkWithSender[S, M]) Sender() S {
	return s.sender
}

// Message with the identity of its sender.
type Message[SenderType comparable, MessageType any] struct {
	Sender  SenderType
	Content MessageType
}
