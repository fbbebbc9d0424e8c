package pbft

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bftengine/pbftcore/internal/logger"
)

func eventLoopLogger() *zap.SugaredLogger {
	return logger.Named("eventloop")
}

// UpdateKind tags the variant carried by an Update (spec §4.1 "Update
// dispatch table").
type UpdateKind int

const (
	UpdateBlockNew UpdateKind = iota
	UpdateBlockCommit
	UpdateBlockValid
	UpdateBlockInvalid
	UpdatePeerMessage
	UpdatePeerConnected
	UpdatePeerDisconnected
	UpdateShutdown
)

// Update is the single message type the Event Loop pulls off its input
// channel, a sum type over the variants spec §4.1 dispatches. Only the
// fields relevant to Kind are populated.
type Update struct {
	Kind UpdateKind

	Block   Block
	BlockID BlockID

	PeerMsgType string
	PeerPayload []byte
	SenderID    PeerID
}

// EventLoop pulls updates and timer ticks and dispatches into Node,
// single-threaded per spec §5 "Scheduling model". Grounded on the
// teacher's Manager.Start background-loop shape
// (internal/icenet/consensus/manager.go), replaced here with the
// bounded-wait poll loop spec §4.1 specifies instead of a goroutine-driven
// ticker.
type EventLoop struct {
	Node    *Node
	Updates <-chan Update
	Keys    KeyStore
}

// Run executes the loop until Shutdown, a disconnected channel, or ctx
// cancellation (spec §4.1, §5 "Cancellation").
func (el *EventLoop) Run(ctx context.Context) error {
	timer := time.NewTimer(el.Node.State.MessageTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(el.Node.State.MessageTimeout)

		var stop bool
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-el.Updates:
			if !ok {
				eventLoopLogger().Infow("update channel disconnected, stopping")
				stop = true
				break
			}
			if err := el.dispatch(ctx, upd); err != nil {
				if fatal, isFatal := asFatal(err); isFatal {
					eventLoopLogger().Errorw("fatal error, aborting", "reason", fatal.Reason, "error", err)
					return err
				}
				eventLoopLogger().Warnw("update handler returned error", "error", err)
			}
			stop = upd.Kind == UpdateShutdown
		case <-timer.C:
			// Channel timeout: no-op, fall through to housekeeping.
		}

		if err := el.Node.Housekeeping(ctx); err != nil {
			if fatal, isFatal := asFatal(err); isFatal {
				eventLoopLogger().Errorw("fatal error during housekeeping", "reason", fatal.Reason, "error", err)
				return err
			}
			eventLoopLogger().Warnw("housekeeping error", "error", err)
		}

		if stop {
			return nil
		}
	}
}

func asFatal(err error) (*FatalError, bool) {
	fatal, ok := err.(*FatalError)
	return fatal, ok
}

// dispatch implements the table in spec §4.1.
func (el *EventLoop) dispatch(ctx context.Context, upd Update) error {
	switch upd.Kind {
	case UpdateBlockNew:
		return el.Node.OnBlockNew(ctx, upd.Block)
	case UpdateBlockCommit:
		return el.Node.OnBlockCommit(ctx, upd.BlockID)
	case UpdateBlockValid, UpdateBlockInvalid:
		// Ignored for protocol compatibility; OnBlockValid is driven
		// internally from check_blocks completion (spec §9).
		return nil
	case UpdatePeerMessage:
		return el.dispatchPeerMessage(ctx, upd)
	case UpdatePeerConnected:
		eventLoopLogger().Infow("peer connected", "peer", upd.SenderID)
		return nil
	case UpdatePeerDisconnected:
		eventLoopLogger().Infow("peer disconnected", "peer", upd.SenderID)
		return nil
	case UpdateShutdown:
		eventLoopLogger().Infow("shutdown requested")
		return nil
	default:
		return nil
	}
}

func (el *EventLoop) dispatchPeerMessage(ctx context.Context, upd Update) error {
	isNewView := upd.PeerMsgType == MessageTypeNewView.String()
	parsed, err := DecodeSignedPeerMessage(el.Keys, isNewView, upd.PeerPayload)
	if err != nil {
		RecordMessageDropped(classifyDropReason(err))
		return err
	}
	if parsed.Info().SignerID != upd.SenderID {
		RecordMessageDropped("signer_mismatch")
		return nil
	}
	return el.Node.OnPeerMessage(ctx, parsed)
}
