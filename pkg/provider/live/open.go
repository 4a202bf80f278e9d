package live

import (
	"context"

	"github.com/MrWong99/signbridge/pkg/audio"
)

// Callbacks is the event-style view of a [Session]. Nil callbacks are
// skipped. OnOpen runs on the goroutine calling [Open]; the others run on a
// single goroutine owned by Open and only after OnOpen returned, so no two
// callbacks ever run concurrently.
type Callbacks struct {
	// OnOpen is called exactly once after the handshake succeeded and before
	// any other callback.
	OnOpen func()

	// OnServerAudio is called once per server audio payload, in receive
	// order.
	OnServerAudio func(pcm []byte)

	// OnError is called at most once when the session ends with an error.
	OnError func(err error)

	// OnClose is called at most once when the session ends, whether it was
	// closed locally or by the remote side. It follows OnError, if any.
	OnClose func()
}

// Open connects through p and drives cb from the resulting session until it
// ends. A failed Connect returns the error without invoking any callback.
func Open(ctx context.Context, p Provider, cfg SessionConfig, cb Callbacks) (Session, error) {
	sess, err := p.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ready := make(chan struct{})
	go func() {
		<-ready
		if cb.OnServerAudio == nil {
			audio.Drain(sess.Audio())
		} else {
			for pcm := range sess.Audio() {
				cb.OnServerAudio(pcm)
			}
		}
		if err := sess.Err(); err != nil && cb.OnError != nil {
			cb.OnError(err)
		}
		if cb.OnClose != nil {
			cb.OnClose()
		}
	}()

	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	close(ready)
	return sess, nil
}
